package guild

import (
	"context"
	"time"

	"github.com/guildhall-dev/guildhall/internal/keys"
	"github.com/guildhall-dev/guildhall/internal/model"
	"github.com/guildhall-dev/guildhall/internal/storage"
)

// Coefficients weight the member-activity rate terms.
type Coefficients struct {
	Alpha float64
	Beta  float64
	Gamma float64
}

// Analytics is the on-demand aggregate; nothing here is materialized.
type Analytics struct {
	GuildID          string  `json:"guildId"`
	TotalMembers     int     `json:"totalMembers"`
	ActiveMembers    int     `json:"activeMembers"`
	RecentActivities int     `json:"recentActivities"`
	CompletedGoals   int     `json:"completedGoals"`
	ActivityRate     float64 `json:"activityRate"`
}

// GoalCounter reports how many completed goals a user has. Goals live
// in the core table, so the count crosses the table boundary through
// this hook instead of a second store handle.
type GoalCounter func(ctx context.Context, userID string) (int, error)

// CountGoalsWith installs the completed-goal counter used by the third
// analytics term; nil leaves that term at zero.
func (s *Service) CountGoalsWith(fn GoalCounter) { s.completedGoals = fn }

// activeWindow bounds what counts as "recent" for members and
// activities.
const activeWindow = 7 * 24 * time.Hour

// Analytics computes the weighted member-activity rate:
// alpha*active/total + beta*recent/days + gamma*completed/total.
func (s *Service) Analytics(ctx context.Context, guildID, userID string, coeff Coefficients) (Analytics, error) {
	if err := s.requireMember(ctx, guildID, userID); err != nil {
		return Analytics{}, err
	}
	members, err := s.Members(ctx, guildID)
	if err != nil {
		return Analytics{}, err
	}
	since := s.now() - activeWindow.Milliseconds()

	// Bounded between keeps the range inside the ACTIVITY# prefix; the
	// guild partition holds other row kinds above it.
	out, err := s.store.Query(ctx, storage.QueryInput{
		PartitionKey: keys.Guild(guildID),
		Sort: &storage.SortCondition{
			Op:    storage.SortBetween,
			Value: keys.Activity(since, ""),
			Upper: keys.PrefixActivity + "~",
		},
		Forward: true,
	})
	if err != nil {
		return Analytics{}, err
	}
	actors := map[string]struct{}{}
	recent := 0
	for _, item := range out.Items {
		a := model.ActivityFromItem(item)
		recent++
		actors[a.ActorID] = struct{}{}
	}

	completedGoals := 0
	if s.completedGoals != nil {
		for _, m := range members {
			n, err := s.completedGoals(ctx, m.UserID)
			if err != nil {
				return Analytics{}, err
			}
			completedGoals += n
		}
	}

	total := len(members)
	days := activeWindow.Hours() / 24
	rate := 0.0
	if total > 0 {
		rate = coeff.Alpha*float64(len(actors))/float64(total) +
			coeff.Beta*float64(recent)/days +
			coeff.Gamma*float64(completedGoals)/float64(total)
	}
	return Analytics{
		GuildID:          guildID,
		TotalMembers:     total,
		ActiveMembers:    len(actors),
		RecentActivities: recent,
		CompletedGoals:   completedGoals,
		ActivityRate:     rate,
	}, nil
}
