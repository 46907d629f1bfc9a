package command

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sells-group/research-kb/internal/agenda"
	"github.com/sells-group/research-kb/internal/apperr"
	"github.com/sells-group/research-kb/internal/extract"
	"github.com/sells-group/research-kb/internal/history"
	"github.com/sells-group/research-kb/internal/model"
	"github.com/sells-group/research-kb/internal/query"
	"github.com/sells-group/research-kb/internal/research"
	"github.com/sells-group/research-kb/internal/scrape"
)

// URLChecker probes a URL without extracting it.
type URLChecker interface {
	Check(ctx context.Context, targetURL string) *scrape.URLStatus
}

// Services are the backends the builtin commands call. A nil service leaves
// its commands unregistered.
type Services struct {
	Research *research.Service
	Extract  *extract.Service
	History  *history.Service
	Query    *query.Service
	Agenda   *agenda.Service
	Checker  URLChecker
}

// Deleted is returned by delete commands.
type Deleted struct {
	Deleted bool   `json:"deleted"`
	ID      string `json:"id"`
}

// Builtin returns a Registry with every command the services support.
func Builtin(svc Services) *Registry {
	r := NewRegistry()
	if svc.Research != nil {
		registerProjects(r, svc.Research)
		registerEntities(r, svc.Research)
		registerAssertions(r, svc.Research)
		registerSources(r, svc.Research)
		registerSearch(r, svc.Research)
	}
	if svc.Extract != nil {
		registerExtract(r, svc.Extract, svc.Checker)
	}
	if svc.Query != nil {
		registerQuery(r, svc.Query)
	}
	if svc.History != nil {
		registerDiff(r, svc.History)
	}
	if svc.Agenda != nil {
		registerAgenda(r, svc.Agenda)
	}
	return r
}

// decoded adapts a typed function to a Handler by decoding args into T.
func decoded[T any, R any](fn func(context.Context, T) (R, error)) Handler {
	return func(ctx context.Context, args Args) (any, error) {
		var in T
		if err := args.Decode(&in); err != nil {
			return nil, err
		}
		return fn(ctx, in)
	}
}

// byID adapts a lookup keyed by one required argument.
func byID[R any](key string, fn func(context.Context, string) (R, error)) Handler {
	return func(ctx context.Context, args Args) (any, error) {
		if err := args.Require(key); err != nil {
			return nil, err
		}
		return fn(ctx, args.String(key))
	}
}

func deleteByID(key string, fn func(context.Context, string) error) Handler {
	return func(ctx context.Context, args Args) (any, error) {
		if err := args.Require(key); err != nil {
			return nil, err
		}
		id := args.String(key)
		if err := fn(ctx, id); err != nil {
			return nil, err
		}
		return Deleted{Deleted: true, ID: id}, nil
	}
}

// updateByID decodes args into T and applies it to the record named by key.
func updateByID[T any, R any](key string, fn func(context.Context, string, T) (R, error)) Handler {
	return func(ctx context.Context, args Args) (any, error) {
		if err := args.Require(key); err != nil {
			return nil, err
		}
		var in T
		if err := args.Decode(&in); err != nil {
			return nil, err
		}
		return fn(ctx, args.String(key), in)
	}
}

func registerProjects(r *Registry, rs *research.Service) {
	r.Register(Command{Name: "project:create", Summary: "Create a research project", Handler: decoded(rs.CreateProject)})
	r.Register(Command{Name: "project:get", Summary: "Get a project by projectId", Handler: byID("projectId", rs.GetProject)})
	r.Register(Command{Name: "project:list", Summary: "List projects", Handler: func(ctx context.Context, _ Args) (any, error) {
		return rs.ListProjects(ctx)
	}})
	r.Register(Command{Name: "project:update", Summary: "Update a project", Handler: updateByID("projectId", rs.UpdateProject)})
	r.Register(Command{Name: "project:delete", Summary: "Delete a project", Handler: deleteByID("projectId", rs.DeleteProject)})
	r.Register(Command{Name: "project:find", Summary: "Find a project by name", Handler: byID("name", rs.FindProjectByName)})
}

func registerEntities(r *Registry, rs *research.Service) {
	r.Register(Command{Name: "entity:create", Summary: "Create or update an entity by name", Handler: decoded(rs.CreateEntity)})
	r.Register(Command{Name: "entity:get", Summary: "Get an entity with its assertions", Handler: byID("entityId", rs.GetEntity)})
	r.Register(Command{Name: "entity:find", Summary: "Find an entity by projectId and name", Handler: func(ctx context.Context, args Args) (any, error) {
		if err := args.Require("projectId", "name"); err != nil {
			return nil, err
		}
		return rs.FindEntityByName(ctx, args.String("projectId"), args.String("name"))
	}})
	r.Register(Command{Name: "entity:list", Summary: "List a project's entities", Handler: byID("projectId", rs.ListEntities)})
	r.Register(Command{Name: "entity:search", Summary: "Search entities by name or description", Handler: decoded(rs.SearchEntities)})
	r.Register(Command{Name: "entity:update", Summary: "Update an entity", Handler: updateByID("entityId", rs.UpdateEntity)})
	r.Register(Command{Name: "entity:delete", Summary: "Delete an entity", Handler: deleteByID("entityId", rs.DeleteEntity)})
	r.Register(Command{Name: "entity:exists", Summary: "Check whether an entity name exists in a project", Handler: func(ctx context.Context, args Args) (any, error) {
		if err := args.Require("projectId", "name"); err != nil {
			return nil, err
		}
		return rs.EntityExists(ctx, args.String("projectId"), args.String("name"))
	}})
}

func registerAssertions(r *Registry, rs *research.Service) {
	r.Register(Command{Name: "assertion:create", Summary: "Create an assertion", Handler: decoded(rs.CreateAssertion)})
	r.Register(Command{Name: "assertion:get", Summary: "Get an assertion with reasoning and sources", Handler: byID("assertionId", rs.GetAssertion)})
	r.Register(Command{Name: "assertion:list", Summary: "List an entity's assertions", Handler: byID("entityId", rs.ListAssertions)})
	r.Register(Command{Name: "assertion:search", Summary: "Search assertions", Handler: decoded(rs.SearchAssertions)})
	r.Register(Command{Name: "assertion:update", Summary: "Update an assertion", Handler: updateByID("assertionId", rs.UpdateAssertion)})
	r.Register(Command{Name: "assertion:validate", Summary: "Mark an assertion validated", Handler: func(ctx context.Context, args Args) (any, error) {
		if err := args.Require("assertionId"); err != nil {
			return nil, err
		}
		return rs.ValidateAssertion(ctx, args.String("assertionId"), args.String("validatedBy"))
	}})
	r.Register(Command{Name: "assertion:reject", Summary: "Mark an assertion rejected", Handler: func(ctx context.Context, args Args) (any, error) {
		if err := args.Require("assertionId"); err != nil {
			return nil, err
		}
		return rs.RejectAssertion(ctx, args.String("assertionId"), args.String("validatedBy"), args.String("reason"))
	}})
	r.Register(Command{Name: "assertion:delete", Summary: "Delete an assertion", Handler: deleteByID("assertionId", rs.DeleteAssertion)})
	r.Register(Command{Name: "assertion:addReasoning", Summary: "Attach a reasoning note", Handler: func(ctx context.Context, args Args) (any, error) {
		if err := args.Require("assertionId", "content"); err != nil {
			return nil, err
		}
		return rs.AddReasoning(ctx, args.String("assertionId"), args.String("content"), args.String("agentId"))
	}})
	r.Register(Command{Name: "assertion:findSimilar", Summary: "Find assertions with a similar claim", Handler: func(ctx context.Context, args Args) (any, error) {
		if err := args.Require("entityId", "claim"); err != nil {
			return nil, err
		}
		return rs.FindSimilarAssertions(ctx, args.String("entityId"), args.String("claim"))
	}})
	r.Register(Command{Name: "assertion:respond", Summary: "Record a human validation note", Handler: updateByID("assertionId", rs.AddHumanResponse)})
	r.Register(Command{Name: "assertion:addNote", Summary: "Append to an assertion's validation thread", Handler: func(ctx context.Context, args Args) (any, error) {
		if err := args.Require("assertionId", "role", "content"); err != nil {
			return nil, err
		}
		return rs.AddValidationNote(ctx, args.String("assertionId"), model.NoteRole(args.String("role")), args.String("content"))
	}})
}

func registerSources(r *Registry, rs *research.Service) {
	r.Register(Command{Name: "source:create", Summary: "Create or update a source by url", Handler: decoded(rs.CreateSource)})
	r.Register(Command{Name: "source:get", Summary: "Get a source", Handler: byID("sourceId", rs.GetSource)})
	r.Register(Command{Name: "source:find", Summary: "Find a source by url", Handler: byID("url", rs.FindSourceByURL)})
	r.Register(Command{Name: "source:list", Summary: "List sources, optionally by status", Handler: func(ctx context.Context, args Args) (any, error) {
		return rs.ListSources(ctx, model.SourceStatus(args.String("status")))
	}})
	r.Register(Command{Name: "source:search", Summary: "Search sources", Handler: byID("query", rs.SearchSources)})
	r.Register(Command{Name: "source:link", Summary: "Link a source to an assertion", Handler: decoded(rs.LinkSource)})
	r.Register(Command{Name: "source:update", Summary: "Update a source", Handler: updateByID("sourceId", rs.UpdateSource)})
	r.Register(Command{Name: "source:validate", Summary: "Mark a source validated", Handler: func(ctx context.Context, args Args) (any, error) {
		if err := args.Require("sourceId"); err != nil {
			return nil, err
		}
		return rs.ValidateSource(ctx, args.String("sourceId"), args.String("validatedBy"))
	}})
	r.Register(Command{Name: "source:reject", Summary: "Mark a source rejected", Handler: func(ctx context.Context, args Args) (any, error) {
		if err := args.Require("sourceId"); err != nil {
			return nil, err
		}
		return rs.RejectSource(ctx, args.String("sourceId"), args.String("validatedBy"))
	}})
	r.Register(Command{Name: "source:delete", Summary: "Delete a source", Handler: deleteByID("sourceId", rs.DeleteSource)})
	r.Register(Command{Name: "source:byType", Summary: "List sources of a type", Handler: byID("sourceType", rs.SourcesByType)})
}

func registerSearch(r *Registry, rs *research.Service) {
	r.Register(Command{Name: "search:global", Summary: "Search entities, assertions and sources", Handler: decoded(rs.GlobalSearch)})
	r.Register(Command{Name: "search:summary", Summary: "Summarize a project", Handler: byID("projectId", rs.ProjectSummary)})
	r.Register(Command{Name: "search:pending", Summary: "Assertions awaiting validation", Handler: decoded(rs.PendingValidation)})
	r.Register(Command{Name: "search:activity", Summary: "Recent research activity", Handler: func(ctx context.Context, args Args) (any, error) {
		return rs.RecentActivity(ctx, args.Int("limit"))
	}})
	r.Register(Command{Name: "search:noAssertions", Summary: "Entities without assertions", Handler: byID("projectId", rs.EntitiesWithoutAssertions)})
	r.Register(Command{Name: "search:noSources", Summary: "Assertions without sources", Handler: func(ctx context.Context, args Args) (any, error) {
		return rs.AssertionsWithoutSources(ctx, args.String("projectId"))
	}})
	r.Register(Command{Name: "research:gaps", Summary: "What still needs researching", Handler: byID("projectId", rs.ResearchGaps)})
}

func registerExtract(r *Registry, xs *extract.Service, checker URLChecker) {
	r.Register(Command{Name: "extract:fetch", Summary: "Fetch a page into the extraction cache", Handler: decoded(xs.Fetch)})
	r.Register(Command{Name: "extract:cache", Summary: "Read cached page content", Handler: func(_ context.Context, args Args) (any, error) {
		if err := args.Require("cacheId"); err != nil {
			return nil, err
		}
		return xs.ReadCache(args.String("cacheId"))
	}})
	r.Register(Command{Name: "extract:save", Summary: "Validate and store extracted data", Handler: decoded(xs.Save)})
	r.Register(Command{Name: "extract:extract", Summary: "Fetch and extract with the model", Handler: decoded(xs.Extract)})
	for _, t := range model.SchemaTypes {
		r.Register(Command{
			Name:    "extract:" + string(t),
			Summary: "Fetch and extract " + string(t) + " data with the model",
			Handler: func(ctx context.Context, args Args) (any, error) {
				var in extract.ExtractInput
				if err := args.Decode(&in); err != nil {
					return nil, err
				}
				in.SchemaType = t
				return xs.Extract(ctx, in)
			},
		})
	}
	r.Register(Command{Name: "extract:check", Summary: "Validate data against a schema", Handler: func(_ context.Context, args Args) (any, error) {
		if err := args.Require("schemaType"); err != nil {
			return nil, err
		}
		return xs.Validate(model.SchemaType(args.String("schemaType")), json.RawMessage(args.get("data").Raw))
	}})
	if checker != nil {
		r.Register(Command{Name: "extract:validate", Summary: "Check that a URL is reachable", Handler: func(ctx context.Context, args Args) (any, error) {
			if err := args.Require("url"); err != nil {
				return nil, err
			}
			return checker.Check(ctx, args.String("url")), nil
		}})
	}
	r.Register(Command{Name: "extract:list", Summary: "List an entity's extractions", Handler: func(ctx context.Context, args Args) (any, error) {
		return xs.List(ctx, args.String("entityId"), model.SchemaType(args.String("schemaType")))
	}})
	r.Register(Command{Name: "extract:latest", Summary: "Latest completed extraction", Handler: func(ctx context.Context, args Args) (any, error) {
		if err := args.Require("entityId", "schemaType"); err != nil {
			return nil, err
		}
		return xs.Latest(ctx, args.String("entityId"), model.SchemaType(args.String("schemaType")))
	}})
	r.Register(Command{Name: "extract:stale", Summary: "Stale or expired extractions", Handler: func(ctx context.Context, args Args) (any, error) {
		return xs.Stale(ctx, args.String("projectId"))
	}})
	r.Register(Command{Name: "extract:summary", Summary: "Extraction counts per schema", Handler: byID("projectId", xs.Summary)})
}

func registerQuery(r *Registry, qs *query.Service) {
	r.Register(Command{Name: "query:search", Summary: "Search the latest extraction data", Handler: decoded(qs.Search)})
	r.Register(Command{Name: "query:values", Summary: "Distinct values of a field", Handler: func(ctx context.Context, args Args) (any, error) {
		if err := args.Require("projectId", "schemaType", "fieldPath"); err != nil {
			return nil, err
		}
		return qs.Values(ctx, args.String("projectId"), model.SchemaType(args.String("schemaType")), args.String("fieldPath"))
	}})
	r.Register(Command{Name: "query:pricing", Summary: "Compare pricing", Handler: decoded(qs.Pricing)})
	r.Register(Command{Name: "query:compliance", Summary: "Compare compliance", Handler: decoded(qs.Compliance)})
	r.Register(Command{Name: "query:features", Summary: "Compare features", Handler: decoded(qs.Features)})
	r.Register(Command{Name: "query:integrations", Summary: "Compare integrations", Handler: decoded(qs.Integrations)})
	r.Register(Command{Name: "query:companies", Summary: "Compare company profiles", Handler: decoded(qs.Companies)})
	r.Register(Command{Name: "query:compare", Summary: "Side-by-side data for entities", Handler: decoded(qs.Compare)})
}

func registerDiff(r *Registry, hs *history.Service) {
	r.Register(Command{Name: "diff:latest", Summary: "Diff the two latest extractions", Handler: func(ctx context.Context, args Args) (any, error) {
		if err := args.Require("entityId", "schemaType"); err != nil {
			return nil, err
		}
		return hs.LatestDiff(ctx, args.String("entityId"), model.SchemaType(args.String("schemaType")))
	}})
	r.Register(Command{Name: "diff:compare", Summary: "Diff two extractions", Handler: func(ctx context.Context, args Args) (any, error) {
		if err := args.Require("oldExtractionId", "newExtractionId"); err != nil {
			return nil, err
		}
		return hs.CompareExtractions(ctx, args.String("oldExtractionId"), args.String("newExtractionId"))
	}})
	r.Register(Command{Name: "diff:history", Summary: "Extraction history for an entity", Handler: func(ctx context.Context, args Args) (any, error) {
		if err := args.Require("entityId", "schemaType"); err != nil {
			return nil, err
		}
		return hs.ExtractionHistory(ctx, args.String("entityId"), model.SchemaType(args.String("schemaType")), args.Int("limit"))
	}})
	r.Register(Command{Name: "diff:changes", Summary: "Recent changes across a project", Handler: decoded(hs.RecentChanges)})
	r.Register(Command{Name: "diff:stale", Summary: "Extractions due for refresh", Handler: func(ctx context.Context, args Args) (any, error) {
		days := args.Int("maxAgeDays")
		if days < 0 || days > maxStaleDays {
			return nil, apperr.Validationf("maxAgeDays must be between 0 and %d", maxStaleDays)
		}
		return hs.StaleExtractions(ctx, time.Duration(days)*24*time.Hour)
	}})
}

// maxStaleDays keeps maxAgeDays well inside what a time.Duration can hold.
const maxStaleDays = 36500

func registerAgenda(r *Registry, as *agenda.Service) {
	byAgenda := func(fn func(id string, args Args) (any, error)) Handler {
		return func(_ context.Context, args Args) (any, error) {
			if err := args.Require("agendaId"); err != nil {
				return nil, err
			}
			return fn(args.String("agendaId"), args)
		}
	}

	r.Register(Command{Name: "agenda:create", Summary: "Create a work queue", Handler: decoded(as.Create)})
	r.Register(Command{Name: "agenda:list", Summary: "List agendas", Handler: func(context.Context, Args) (any, error) {
		return as.List()
	}})
	r.Register(Command{Name: "agenda:get", Summary: "Get an agenda", Handler: byAgenda(func(id string, _ Args) (any, error) {
		return as.Get(id)
	})})
	r.Register(Command{Name: "agenda:status", Summary: "Agenda progress", Handler: byAgenda(func(id string, _ Args) (any, error) {
		return as.Status(id)
	})})
	r.Register(Command{Name: "agenda:next", Summary: "Start the next pending item", Handler: byAgenda(func(id string, _ Args) (any, error) {
		return as.Next(id)
	})})
	r.Register(Command{Name: "agenda:complete", Summary: "Complete the current item", Handler: byAgenda(func(id string, args Args) (any, error) {
		return as.Complete(id, args.String("notes"))
	})})
	r.Register(Command{Name: "agenda:skip", Summary: "Skip the current item", Handler: byAgenda(func(id string, args Args) (any, error) {
		return as.Skip(id, args.String("reason"))
	})})
	r.Register(Command{Name: "agenda:fail", Summary: "Fail the current item", Handler: byAgenda(func(id string, args Args) (any, error) {
		return as.Fail(id, args.String("error"))
	})})
	r.Register(Command{Name: "agenda:reset", Summary: "Return items to pending", Handler: byAgenda(func(id string, args Args) (any, error) {
		var opts agenda.ResetOptions
		if err := args.Decode(&opts); err != nil {
			return nil, err
		}
		return as.Reset(id, opts)
	})})
	r.Register(Command{Name: "agenda:delete", Summary: "Delete an agenda", Handler: byAgenda(func(id string, _ Args) (any, error) {
		if err := as.Delete(id); err != nil {
			return nil, err
		}
		return Deleted{Deleted: true, ID: id}, nil
	})})
	r.Register(Command{Name: "agenda:suggest", Summary: "Suggest agendas for research gaps", Handler: byID("projectId", as.Suggest)})
}
