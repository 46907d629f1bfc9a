package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/research-kb/internal/agenda"
	"github.com/sells-group/research-kb/internal/command"
	"github.com/sells-group/research-kb/internal/config"
	"github.com/sells-group/research-kb/internal/extract"
	"github.com/sells-group/research-kb/internal/history"
	"github.com/sells-group/research-kb/internal/query"
	"github.com/sells-group/research-kb/internal/research"
	"github.com/sells-group/research-kb/internal/scrape"
	"github.com/sells-group/research-kb/internal/store"
	anthropicpkg "github.com/sells-group/research-kb/pkg/anthropic"
)

// appEnv holds the store, clients and services shared by the run, serve and
// mcp commands.
type appEnv struct {
	Store    store.Store
	Chat     anthropicpkg.Client // nil without an API key
	Browser  *scrape.BrowserScraper
	Research *research.Service
	Extract  *extract.Service
	History  *history.Service
	Query    *query.Service
	Agenda   *agenda.Service
	Commands *command.Registry
}

// Close releases the browser and the store.
func (e *appEnv) Close() {
	if e.Browser != nil {
		if err := e.Browser.Close(); err != nil {
			zap.L().Debug("close browser", zap.Error(err))
		}
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured store backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "research.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initScrape builds the fetch chain: plain HTTP first, then headless Chrome
// when enabled. The browser also takes screenshots.
func initScrape(fc config.FetchConfig) (*scrape.Chain, *scrape.BrowserScraper) {
	limiter := scrape.NewHostLimiter(fc.RatePerHost, fc.Burst)
	local := scrape.NewLocalScraper(scrape.LocalOptions{
		UserAgent: fc.UserAgent,
		Timeout:   time.Duration(fc.TimeoutSecs) * time.Second,
		Limiter:   limiter,
	})
	checker := scrape.NewLocalScraper(scrape.LocalOptions{
		UserAgent: fc.UserAgent,
		Timeout:   time.Duration(fc.ValidateTimeoutSecs) * time.Second,
	})

	if !fc.Browser {
		return scrape.NewChain(local).WithChecker(checker), nil
	}
	browser := scrape.NewBrowserScraper(scrape.BrowserOptions{
		Headless:       fc.Headless,
		UserAgent:      fc.UserAgent,
		Timeout:        time.Duration(fc.TimeoutSecs) * time.Second,
		ViewportWidth:  fc.ViewportWidth,
		ViewportHeight: fc.ViewportHeight,
		Limiter:        limiter,
	})
	chain := scrape.NewChain(local, browser).
		WithScreenshotter(browser).
		WithChecker(checker)
	return chain, browser
}

// initEnv validates config for mode, opens and migrates the store, and wires
// every service. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env := &appEnv{Store: st}

	var parser *extract.Parser
	if cfg.HasAnthropic() {
		env.Chat = anthropicpkg.NewClient(cfg.Anthropic.Key)
		parser = extract.NewParser(env.Chat, cfg.Anthropic.ExtractModel, cfg.Anthropic.MaxTokens, cfg.Extract.MaxContentChars)
	} else {
		zap.L().Info("no anthropic key configured, extraction caches content for manual review")
	}

	chain, browser := initScrape(cfg.Fetch)
	env.Browser = browser

	env.Research = research.New(st)
	env.Extract = extract.New(env.Research, chain, parser, extract.Options{
		CacheDir:          cfg.Extract.CacheDir,
		ScreenshotDir:     cfg.Fetch.ScreenshotDir,
		DefaultConfidence: cfg.Extract.DefaultConfidence,
		ExpiryDays:        cfg.Extract.ExpiryDays,
	})
	env.History = history.New(st)
	env.Query = query.New(st)
	env.Agenda = agenda.New(cfg.Agenda.Dir, st)
	env.Commands = command.Builtin(command.Services{
		Research: env.Research,
		Extract:  env.Extract,
		History:  env.History,
		Query:    env.Query,
		Agenda:   env.Agenda,
		Checker:  chain,
	})

	return env, nil
}
