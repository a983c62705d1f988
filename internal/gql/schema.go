// Package gql is the GraphQL surface. Resolvers are thin wrappers over
// the same domain services REST uses; no rule lives only here.
package gql

import (
	"github.com/graphql-go/graphql"

	"github.com/guildhall-dev/guildhall/internal/apperr"
	"github.com/guildhall-dev/guildhall/internal/auth"
	"github.com/guildhall-dev/guildhall/internal/chat"
	"github.com/guildhall-dev/guildhall/internal/goal"
	"github.com/guildhall-dev/guildhall/internal/model"
	"github.com/guildhall-dev/guildhall/internal/user"
)

// Resolvers bundles the services the schema closes over.
type Resolvers struct {
	Users *user.Service
	Goals *goal.Service
	Chat  *chat.Service
}

var userType = graphql.NewObject(graphql.ObjectConfig{
	Name: "User",
	Fields: graphql.Fields{
		"id":        &graphql.Field{Type: graphql.String},
		"email":     &graphql.Field{Type: graphql.String},
		"nickname":  &graphql.Field{Type: graphql.String},
		"status":    &graphql.Field{Type: graphql.String},
		"country":   &graphql.Field{Type: graphql.String},
		"bio":       &graphql.Field{Type: graphql.String},
		"avatarUrl": &graphql.Field{Type: graphql.String},
		"createdAt": &graphql.Field{Type: graphql.Float},
	},
})

var goalType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Goal",
	Fields: graphql.Fields{
		"id":          &graphql.Field{Type: graphql.String},
		"title":       &graphql.Field{Type: graphql.String},
		"description": &graphql.Field{Type: graphql.String},
		"status":      &graphql.Field{Type: graphql.String},
		"deadline":    &graphql.Field{Type: graphql.Float},
		"createdAt":   &graphql.Field{Type: graphql.Float},
	},
})

var taskType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Task",
	Fields: graphql.Fields{
		"id":        &graphql.Field{Type: graphql.String},
		"goalId":    &graphql.Field{Type: graphql.String},
		"title":     &graphql.Field{Type: graphql.String},
		"status":    &graphql.Field{Type: graphql.String},
		"createdAt": &graphql.Field{Type: graphql.Float},
	},
})

var messageType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Message",
	Fields: graphql.Fields{
		"id":       &graphql.Field{Type: graphql.String},
		"senderId": &graphql.Field{Type: graphql.String},
		"text":     &graphql.Field{Type: graphql.String},
		"ts":       &graphql.Field{Type: graphql.Float},
	},
})

// requirePrincipal rejects API-key and anonymous callers.
func requirePrincipal(p graphql.ResolveParams) (auth.Principal, error) {
	principal, ok := auth.FromContext(p.Context)
	if !ok {
		return auth.Principal{}, apperr.Unauthenticated("invalid_token", "bearer token required")
	}
	return principal, nil
}

// NewSchema builds the executable schema over the resolvers.
func NewSchema(r Resolvers) (graphql.Schema, error) {
	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"me": &graphql.Field{
				Type: userType,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					principal, err := requirePrincipal(p)
					if err != nil {
						return nil, err
					}
					return r.Users.Get(p.Context, principal.Sub)
				},
			},
			"myProfile": &graphql.Field{
				Type: userType,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					principal, err := requirePrincipal(p)
					if err != nil {
						return nil, err
					}
					return r.Users.Get(p.Context, principal.Sub)
				},
			},
			"myGoals": &graphql.Field{
				Type: graphql.NewList(goalType),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					principal, err := requirePrincipal(p)
					if err != nil {
						return nil, err
					}
					// Archived goals are REST-only, behind an explicit flag.
					goals, _, err := r.Goals.List(p.Context, principal.Sub, false, 0, "")
					return goals, err
				},
			},
			"myTasks": &graphql.Field{
				Type: graphql.NewList(taskType),
				Args: graphql.FieldConfigArgument{
					"goalId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					principal, err := requirePrincipal(p)
					if err != nil {
						return nil, err
					}
					tasks, _, err := r.Goals.ListTasks(p.Context, principal.Sub, p.Args["goalId"].(string))
					return tasks, err
				},
			},
			"activeGoalsCount": &graphql.Field{
				Type: graphql.Int,
				Args: graphql.FieldConfigArgument{
					"userId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					principal, err := requirePrincipal(p)
					if err != nil {
						return nil, err
					}
					target := p.Args["userId"].(string)
					if target != principal.Sub {
						return nil, apperr.Forbidden("own goals only")
					}
					return r.Goals.ActiveCount(p.Context, target)
				},
			},
			"isEmailAvailable": &graphql.Field{
				Type: graphql.Boolean,
				Args: graphql.FieldConfigArgument{
					"email": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				// Public field: reachable with the API key alone.
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return r.Users.IsEmailAvailable(p.Context, p.Args["email"].(string))
				},
			},
			"isNicknameAvailable": &graphql.Field{
				Type: graphql.Boolean,
				Args: graphql.FieldConfigArgument{
					"nickname": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return r.Users.IsNicknameAvailable(p.Context, p.Args["nickname"].(string))
				},
			},
			"messages": &graphql.Field{
				Type: graphql.NewList(messageType),
				Args: graphql.FieldConfigArgument{
					"roomId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"after":  &graphql.ArgumentConfig{Type: graphql.Float},
					"limit":  &graphql.ArgumentConfig{Type: graphql.Int},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					principal, err := requirePrincipal(p)
					if err != nil {
						return nil, err
					}
					var after int64
					if v, ok := p.Args["after"].(float64); ok {
						after = int64(v)
					}
					limit, _ := p.Args["limit"].(int)
					messages, _, err := r.Chat.History(p.Context, model.ScopeRoom, p.Args["roomId"].(string), principal.Sub, after, limit, "")
					return messages, err
				},
			},
		},
	})

	mutation := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"createUser": &graphql.Field{
				Type: userType,
				Args: graphql.FieldConfigArgument{
					"email":     &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"nickname":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"password":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"country":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"birthDate": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return r.Users.Signup(p.Context, user.SignupInput{
						Email:     p.Args["email"].(string),
						Nickname:  p.Args["nickname"].(string),
						Password:  p.Args["password"].(string),
						Country:   p.Args["country"].(string),
						BirthDate: p.Args["birthDate"].(string),
					})
				},
			},
			"createGoal": &graphql.Field{
				Type: goalType,
				Args: graphql.FieldConfigArgument{
					"title":       &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"description": &graphql.ArgumentConfig{Type: graphql.String},
					"deadline":    &graphql.ArgumentConfig{Type: graphql.Float},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					principal, err := requirePrincipal(p)
					if err != nil {
						return nil, err
					}
					in := goal.CreateInput{Title: p.Args["title"].(string)}
					if d, ok := p.Args["description"].(string); ok {
						in.Description = d
					}
					if d, ok := p.Args["deadline"].(float64); ok {
						in.Deadline = int64(d)
					}
					return r.Goals.Create(p.Context, principal.Sub, in)
				},
			},
			"addTask": &graphql.Field{
				Type: taskType,
				Args: graphql.FieldConfigArgument{
					"goalId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"title":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					principal, err := requirePrincipal(p)
					if err != nil {
						return nil, err
					}
					return r.Goals.CreateTask(p.Context, principal.Sub, p.Args["goalId"].(string), p.Args["title"].(string))
				},
			},
			"sendMessage": &graphql.Field{
				Type: messageType,
				Args: graphql.FieldConfigArgument{
					"roomId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"text":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					principal, err := requirePrincipal(p)
					if err != nil {
						return nil, err
					}
					return r.Chat.Send(p.Context, model.ScopeRoom, p.Args["roomId"].(string), principal.Sub, p.Args["text"].(string))
				},
			},
		},
	})

	subscription := graphql.NewObject(graphql.ObjectConfig{
		Name: "Subscription",
		Fields: graphql.Fields{
			"onMessage": &graphql.Field{
				Type: messageType,
				Args: graphql.FieldConfigArgument{
					"roomId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					// The executor pushes each hub message through Source.
					return p.Source, nil
				},
				Subscribe: func(p graphql.ResolveParams) (any, error) {
					principal, err := requirePrincipal(p)
					if err != nil {
						return nil, err
					}
					sub, unsubscribe, err := r.Chat.Subscribe(p.Context, model.ScopeRoom, p.Args["roomId"].(string), principal.Sub, nil)
					if err != nil {
						return nil, err
					}
					out := make(chan any)
					go func() {
						defer close(out)
						defer unsubscribe()
						for {
							select {
							case <-p.Context.Done():
								return
							case msg := <-sub.C:
								select {
								case out <- msg:
								case <-p.Context.Done():
									return
								}
							}
						}
					}()
					return out, nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query:        query,
		Mutation:     mutation,
		Subscription: subscription,
	})
}
