package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	turnx "github.com/voyagent/voyagent/agent/agents/turn"
	clarifyx "github.com/voyagent/voyagent/agent/clarify"
	consentx "github.com/voyagent/voyagent/agent/consent"
	contractx "github.com/voyagent/voyagent/agent/contract"
	executorx "github.com/voyagent/voyagent/agent/executor"
	extractx "github.com/voyagent/voyagent/agent/extract"
	llmx "github.com/voyagent/voyagent/agent/llm"
	plannerx "github.com/voyagent/voyagent/agent/planner"
	promptx "github.com/voyagent/voyagent/agent/prompt"
	registryx "github.com/voyagent/voyagent/agent/registry"
	routerx "github.com/voyagent/voyagent/agent/router"
	sourcesx "github.com/voyagent/voyagent/agent/sources"
	statex "github.com/voyagent/voyagent/agent/state"
	toolx "github.com/voyagent/voyagent/agent/tool"
	cachex "github.com/voyagent/voyagent/pkg/cache"
	configx "github.com/voyagent/voyagent/pkg/config"
	_ "github.com/voyagent/voyagent/pkg/logger/autoload"
	openrouterx "github.com/voyagent/voyagent/pkg/openrouter"
)

type AppConfig struct {
	Intent            string `envconfig:"INTENT" default:"travel.plan"`
	ActorID           string `envconfig:"ACTOR_ID" split_words:"true" default:"local"`
	StandingConsent   bool   `envconfig:"STANDING_CONSENT" split_words:"true" default:"false"`
	HotelEndpoint     string `envconfig:"HOTEL_ENDPOINT" split_words:"true" required:"true"`
	FlightEndpoint    string `envconfig:"FLIGHT_ENDPOINT" split_words:"true" required:"true"`
	AggregateEndpoint string `envconfig:"AGGREGATE_ENDPOINT" split_words:"true" required:"true"`
	RouterCacheMB     int64  `envconfig:"ROUTER_CACHE_MB" split_words:"true" default:"32"`
}

func main() {
	ctx := context.Background()
	appCfg := configx.MustNew[AppConfig]("")

	llmCfg := configx.MustNew[llmx.Config]("OPENROUTER")
	if err := llmCfg.Validate(); err != nil {
		panic(err)
	}

	reg := registryx.New()
	reg.MustRegister(registryx.TravelCatalog()...)
	planner := plannerx.New(reg)

	extractorCfg := llmCfg.OpenRouterFor(llmx.RoleExtractor)
	composerCfg := llmCfg.OpenRouterFor(llmx.RoleComposer)
	extractor, err := extractx.New(ctx, &extractorCfg, &composerCfg, promptx.LoadPromptSet())
	if err != nil {
		panic(err)
	}

	redisCfg := configx.MustNew[statex.RedisConfig]("REDIS")
	suspendCache := statex.NewCache(statex.NewRedisStore(*redisCfg, statex.WithRedisTTL(redisCfg.TTL)))

	clarifier, err := clarifyx.New(suspendCache, extractor, reg,
		clarifyx.WithQuestionComposer(extractor),
		clarifyx.WithDefaults(registryx.TravelDefaults()),
	)
	if err != nil {
		panic(err)
	}

	consentCfg := configx.MustNew[consentx.Config]("CONSENT")
	consentStore, err := consentx.Open(*consentCfg)
	if err != nil {
		panic(err)
	}
	defer func() { _ = consentStore.Close() }()
	if err := consentStore.Migrate(ctx); err != nil {
		panic(err)
	}

	routerCache, err := cachex.New(appCfg.RouterCacheMB << 20)
	if err != nil {
		panic(err)
	}
	defer routerCache.Close()

	routerCfg := configx.MustNew[routerx.Config]("ROUTER")
	table := sourcesx.TravelTable()
	rtr, err := routerx.New(table,
		routerx.NewThresholdValidator(table, 3, 2),
		buildSources(*appCfg, llmCfg.OpenRouterFor(llmx.RoleComposer)),
		*routerCfg,
		routerx.WithConsentLog(consentStore),
		routerx.WithCache(routerCache),
	)
	if err != nil {
		panic(err)
	}

	gateway := toolx.NewGateway(rtr)
	exec, err := executorx.New(reg, gateway)
	if err != nil {
		panic(err)
	}

	svc, err := turnx.New(planner, clarifier, exec, reg)
	if err != nil {
		panic(err)
	}

	runChat(ctx, svc, *appCfg)
}

func buildSources(cfg AppConfig, orCfg openrouterx.Config) []contractx.Source {
	hotels, err := sourcesx.NewHTTPSource(sourcesx.HTTPConfig{Name: "partner-hotels", Endpoint: cfg.HotelEndpoint})
	if err != nil {
		panic(err)
	}
	flights, err := sourcesx.NewHTTPSource(sourcesx.HTTPConfig{Name: "partner-flights", Endpoint: cfg.FlightEndpoint})
	if err != nil {
		panic(err)
	}
	aggregator, err := sourcesx.NewHTTPSource(sourcesx.HTTPConfig{Name: "aggregator", Endpoint: cfg.AggregateEndpoint})
	if err != nil {
		panic(err)
	}

	client := openrouterx.NewClient(orCfg)
	if client == nil {
		panic("failed to initialize openrouter client")
	}
	broad, err := sourcesx.NewLLMSource("web-broad", orCfg.Model, client)
	if err != nil {
		panic(err)
	}

	return []contractx.Source{hotels, flights, aggregator, broad}
}

// runChat is a line-oriented local chat loop: one session, one intent,
// per-query consent granted by prefixing a message with "yes:".
func runChat(ctx context.Context, svc *turnx.Turn, cfg AppConfig) {
	sessionID := uuid.NewString()
	scanner := bufio.NewScanner(os.Stdin)
	var history []string

	fmt.Println("voyagent ready. Ctrl-D to quit.")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		consent := contractx.ConsentFlags{Standing: cfg.StandingConsent}
		if rest, ok := strings.CutPrefix(text, "yes:"); ok {
			consent.PerQuery = true
			text = strings.TrimSpace(rest)
		}

		resp, err := svc.HandleMessage(ctx, turnx.Request{
			SessionID: sessionID,
			ActorID:   cfg.ActorID,
			Intent:    cfg.Intent,
			Text:      text,
			History:   history,
			Consent:   consent,
		})
		if err != nil {
			log.Error().Err(err).Str("session_id", sessionID).Msg("turn failed")
			fmt.Println("Sorry, something went wrong. Try again.")
			continue
		}

		history = append(history, text)
		fmt.Println(resp.Reply)
	}
}
