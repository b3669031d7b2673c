package api

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/graphql-go/graphql"
	echo "github.com/labstack/echo/v5"

	"github.com/ariacore/aria/pkg/coreerrors"
	"github.com/ariacore/aria/pkg/storage"
)

// graphqlRequest is the standard GraphQL POST body.
type graphqlRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// encodeCursor and decodeCursor implement the opaque cursor contract
// (spec §6): cursor = base64(id).
func encodeCursor(id string) string {
	return base64.StdEncoding.EncodeToString([]byte(id))
}

func decodeCursor(cursor string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return "", coreerrors.NewValidationError("after", "malformed cursor")
	}
	return string(raw), nil
}

// resolve wraps a resolver with the uniform logging and error surface
// every resolver shares (spec §6: "All resolvers wrap DB calls with
// logging and surface errors as typed GraphQL errors").
func resolve(name string, fn func(p graphql.ResolveParams) (any, error)) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		start := time.Now()
		out, err := fn(p)
		if err != nil {
			kind, _ := coreerrors.Classify(err)
			correlationID := uuid.New().String()
			slog.Error("graphql resolver failed",
				"resolver", name, "kind", string(kind),
				"correlation_id", correlationID, "error", err)
			return nil, &resolverError{kind: string(kind), correlationID: correlationID, err: err}
		}
		slog.Debug("graphql resolver ok", "resolver", name, "duration", time.Since(start))
		return out, nil
	}
}

// resolverError is a typed GraphQL error carrying the core error kind
// and a correlation id in extensions.
type resolverError struct {
	kind          string
	correlationID string
	err           error
}

func (e *resolverError) Error() string { return e.err.Error() }

func (e *resolverError) Extensions() map[string]any {
	return map[string]any{
		"kind":           e.kind,
		"correlation_id": e.correlationID,
	}
}

// buildGraphQLSchema constructs the read model plus mutations over the
// core's own partition (sessions, messages, agents, models, cron). The
// memories/activities/thoughts partition belongs to the embedding
// service outside this process and is not served here.
func (s *Server) buildGraphQLSchema() (graphql.Schema, error) {
	sessionType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Session",
		Fields: graphql.Fields{
			"id":           &graphql.Field{Type: graphql.String},
			"type":         &graphql.Field{Type: graphql.String},
			"title":        &graphql.Field{Type: graphql.String},
			"status":       &graphql.Field{Type: graphql.String},
			"messageCount": &graphql.Field{Type: graphql.Int},
			"createdAt":    &graphql.Field{Type: graphql.DateTime},
			"updatedAt":    &graphql.Field{Type: graphql.DateTime},
			"cursor": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					sess, _ := p.Source.(*storage.Session)
					if sess == nil {
						return nil, nil
					}
					return encodeCursor(sess.ID), nil
				},
			},
		},
	})

	messageType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Message",
		Fields: graphql.Fields{
			"id":        &graphql.Field{Type: graphql.String},
			"sessionId": &graphql.Field{Type: graphql.String, Resolve: func(p graphql.ResolveParams) (any, error) {
				m, _ := p.Source.(*storage.Message)
				if m == nil {
					return nil, nil
				}
				return m.SessionID, nil
			}},
			"seq":     &graphql.Field{Type: graphql.Int},
			"role":    &graphql.Field{Type: graphql.String},
			"content": &graphql.Field{Type: graphql.String},
		},
	})

	agentType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Agent",
		Fields: graphql.Fields{
			"id":        &graphql.Field{Type: graphql.String},
			"name":      &graphql.Field{Type: graphql.String},
			"role":      &graphql.Field{Type: graphql.String},
			"state":     &graphql.Field{Type: graphql.String},
			"sessionId": &graphql.Field{Type: graphql.String},
		},
	})

	modelType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Model",
		Fields: graphql.Fields{
			"id":              &graphql.Field{Type: graphql.String},
			"displayName":     &graphql.Field{Type: graphql.String},
			"tier":            &graphql.Field{Type: graphql.String},
			"maxRpm":          &graphql.Field{Type: graphql.Int},
			"maxTpd":          &graphql.Field{Type: graphql.Int},
			"cooldownSeconds": &graphql.Field{Type: graphql.Int},
		},
	})

	cronJobType := graphql.NewObject(graphql.ObjectConfig{
		Name: "CronJob",
		Fields: graphql.Fields{
			"name":     &graphql.Field{Type: graphql.String},
			"schedule": &graphql.Field{Type: graphql.String},
			"skill":    &graphql.Field{Type: graphql.String},
			"action":   &graphql.Field{Type: graphql.String},
			"model":    &graphql.Field{Type: graphql.String},
		},
	})

	sessionConnectionType := graphql.NewObject(graphql.ObjectConfig{
		Name: "SessionConnection",
		Fields: graphql.Fields{
			"nodes":       &graphql.Field{Type: graphql.NewList(sessionType)},
			"endCursor":   &graphql.Field{Type: graphql.String},
			"hasNextPage": &graphql.Field{Type: graphql.Boolean},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"session": &graphql.Field{
				Type: sessionType,
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: resolve("session", func(p graphql.ResolveParams) (any, error) {
					return s.sessions.GetSession(p.Context, p.Args["id"].(string))
				}),
			},
			"sessions": &graphql.Field{
				Type: graphql.NewList(sessionType),
				Args: graphql.FieldConfigArgument{
					"type":   &graphql.ArgumentConfig{Type: graphql.String},
					"status": &graphql.ArgumentConfig{Type: graphql.String},
					"limit":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 50},
					"offset": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 0},
				},
				Resolve: resolve("sessions", func(p graphql.ResolveParams) (any, error) {
					f := storage.SessionFilter{
						Limit:     p.Args["limit"].(int),
						Offset:    p.Args["offset"].(int),
						OrderDesc: true,
					}
					if t, ok := p.Args["type"].(string); ok && t != "" {
						typ := storage.SessionType(t)
						f.Type = &typ
					}
					if st, ok := p.Args["status"].(string); ok && st != "" {
						status := storage.SessionStatus(st)
						f.Status = &status
					}
					return s.sessions.ListSessions(p.Context, f)
				}),
			},
			"sessionsConnection": &graphql.Field{
				Type: sessionConnectionType,
				Args: graphql.FieldConfigArgument{
					"first": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 50},
					"after": &graphql.ArgumentConfig{Type: graphql.String},
				},
				Resolve: resolve("sessionsConnection", func(p graphql.ResolveParams) (any, error) {
					first := p.Args["first"].(int)
					after := ""
					if a, ok := p.Args["after"].(string); ok && a != "" {
						id, err := decodeCursor(a)
						if err != nil {
							return nil, err
						}
						after = id
					}
					return s.sessionsAfter(p.Context, after, first)
				}),
			},
			"messages": &graphql.Field{
				Type: graphql.NewList(messageType),
				Args: graphql.FieldConfigArgument{
					"sessionId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: resolve("messages", func(p graphql.ResolveParams) (any, error) {
					return s.sessions.ListMessages(p.Context, p.Args["sessionId"].(string))
				}),
			},
			"agents": &graphql.Field{
				Type: graphql.NewList(agentType),
				Resolve: resolve("agents", func(p graphql.ResolveParams) (any, error) {
					agents := s.agents.List()
					out := make([]map[string]any, 0, len(agents))
					for _, a := range agents {
						out = append(out, map[string]any{
							"id": a.ID, "name": a.Name, "role": a.Role,
							"state": string(a.State), "sessionId": a.SessionID,
						})
					}
					return out, nil
				}),
			},
			"models": &graphql.Field{
				Type: graphql.NewList(modelType),
				Resolve: resolve("models", func(p graphql.ResolveParams) (any, error) {
					models := s.cfg.ModelRegistry.GetAll()
					ids := make([]string, 0, len(models))
					for id := range models {
						ids = append(ids, id)
					}
					sort.Strings(ids)
					out := make([]map[string]any, 0, len(ids))
					for _, id := range ids {
						m := models[id]
						entry := map[string]any{
							"id": id, "displayName": m.DisplayName,
							"tier": string(m.Tier), "cooldownSeconds": m.CooldownSeconds,
						}
						if m.MaxRPM != nil {
							entry["maxRpm"] = *m.MaxRPM
						}
						if m.MaxTPD != nil {
							entry["maxTpd"] = *m.MaxTPD
						}
						out = append(out, entry)
					}
					return out, nil
				}),
			},
			"cronJobs": &graphql.Field{
				Type: graphql.NewList(cronJobType),
				Resolve: resolve("cronJobs", func(p graphql.ResolveParams) (any, error) {
					jobs := s.cfg.CronRegistry.GetAll()
					names := make([]string, 0, len(jobs))
					for name := range jobs {
						names = append(names, name)
					}
					sort.Strings(names)
					out := make([]map[string]any, 0, len(names))
					for _, name := range names {
						def := jobs[name]
						out = append(out, map[string]any{
							"name": name, "schedule": def.Schedule,
							"skill": def.Skill, "action": def.Action, "model": def.Model,
						})
					}
					return out, nil
				}),
			},
		},
	})

	mutationType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"archiveSession": &graphql.Field{
				Type: graphql.Boolean,
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: resolve("archiveSession", func(p graphql.ResolveParams) (any, error) {
					return s.sessions.ArchiveSession(p.Context, p.Args["id"].(string))
				}),
			},
			"updateSessionTitle": &graphql.Field{
				Type: sessionType,
				Args: graphql.FieldConfigArgument{
					"id":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"title": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: resolve("updateSessionTitle", func(p graphql.ResolveParams) (any, error) {
					id := p.Args["id"].(string)
					if err := s.sessions.UpdateTitle(p.Context, id, p.Args["title"].(string)); err != nil {
						return nil, err
					}
					return s.sessions.GetSession(p.Context, id)
				}),
			},
			"deleteGhostSessions": &graphql.Field{
				Type: graphql.Int,
				Args: graphql.FieldConfigArgument{
					"olderThanMinutes": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 15},
				},
				Resolve: resolve("deleteGhostSessions", func(p graphql.ResolveParams) (any, error) {
					olderThan := time.Duration(p.Args["olderThanMinutes"].(int)) * time.Minute
					return s.sessions.DeleteGhostSessions(p.Context, olderThan)
				}),
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{Query: queryType, Mutation: mutationType})
}

// sessionsAfter implements cursor pagination over the active session
// list: keyset query strictly after the cursor id, one extra row
// fetched to compute hasNextPage.
func (s *Server) sessionsAfter(ctx context.Context, afterID string, first int) (map[string]any, error) {
	if first <= 0 || first > 200 {
		first = 50
	}

	nodes, err := s.sessions.ListSessionsAfter(ctx, afterID, first+1)
	if err != nil {
		return nil, err
	}
	hasNext := len(nodes) > first
	if hasNext {
		nodes = nodes[:first]
	}

	endCursor := ""
	if len(nodes) > 0 {
		endCursor = encodeCursor(nodes[len(nodes)-1].ID)
	}
	return map[string]any{
		"nodes":       nodes,
		"endCursor":   endCursor,
		"hasNextPage": hasNext,
	}, nil
}

// graphqlHandler implements POST /graphql behind the same API-key gate
// as the REST surface.
func (s *Server) graphqlHandler(c echo.Context) error {
	var req graphqlRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, coreerrors.NewValidationError("body", err.Error()))
	}
	if req.Query == "" {
		return writeError(c, coreerrors.NewValidationError("query", "required"))
	}

	result := graphql.Do(graphql.Params{
		Schema:         s.graphqlSchema,
		RequestString:  req.Query,
		OperationName:  req.OperationName,
		VariableValues: req.Variables,
		Context:        c.Request().Context(),
	})
	return c.JSON(http.StatusOK, result)
}
