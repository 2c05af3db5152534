package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/klear-funding/internal/auth"
	"github.com/ksred/klear-funding/internal/consistency"
	"github.com/ksred/klear-funding/internal/money"
	"github.com/ksred/klear-funding/internal/settlement"
	"github.com/ksred/klear-funding/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	minCampaigns      = 5
	maxCampaigns      = 20
	numWorkers        = 5
	duplicateTriggers = 4
	maxRetries        = 10
	defaultServer     = "http://localhost:8080"
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	mu         sync.Mutex
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration, failed bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
	if failed {
		rs.failures++
	}
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the settlement API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates with the API and prepares performance tracking
func newSimulationClient(baseURL string) (*simulationClient, error) {
	sc := &simulationClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		stats: map[string]*routeStats{
			"auth":        {name: "Authentication"},
			"campaign":    {name: "Create Campaign"},
			"agreement":   {name: "Add Agreement"},
			"record":      {name: "Record Funding"},
			"status":      {name: "Funding Status"},
			"settle":      {name: "Trigger Settlement"},
			"consistency": {name: "Consistency"},
		},
	}

	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate() (string, error) {
	var token auth.TokenResponse
	err := sc.call("auth", http.MethodPost, "/api/v1/auth/token", auth.Credentials{
		APIKey:    auth.TestAPIKey,
		APISecret: auth.TestAPISecret,
	}, "", &token)
	if err != nil {
		return "", err
	}
	return token.Token, nil
}

// call sends one request, records its latency and decodes the envelope's data
// into out
func (sc *simulationClient) call(stat, method, path string, in interface{}, idempotencyKey string, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		sc.stats[stat].addDuration(time.Since(start), err != nil)
	}()

	var raw []byte
	if in != nil {
		if raw, err = json.Marshal(in); err != nil {
			return err
		}
	}

	// Back off while the server's rate limiter refuses us.
	var (
		resp     *http.Response
		respBody []byte
	)
	for attempt := 0; ; attempt++ {
		resp, respBody, err = sc.send(method, path, raw, idempotencyKey)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusTooManyRequests || attempt == maxRetries {
			break
		}
		time.Sleep(time.Duration(attempt+1) * 200 * time.Millisecond)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("API response")

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		if env.Error != nil {
			return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, env.Error.Message)
		}
		return fmt.Errorf("%s %s failed with status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

func (sc *simulationClient) send(method, path string, raw []byte, idempotencyKey string) (*http.Response, []byte, error) {
	req, err := http.NewRequest(method, sc.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if sc.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+sc.authToken)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp, body, nil
}

func (sc *simulationClient) createCampaign(target money.Amount) (*types.Campaign, error) {
	var campaign types.Campaign
	err := sc.call("campaign", http.MethodPost, "/api/v1/internal/campaigns", map[string]interface{}{
		"creator_id":    "creator-" + uuid.New().String()[:8],
		"title":         "Simulated campaign",
		"target_amount": target,
		"status":        types.CampaignStatusLive,
	}, "", &campaign)
	return &campaign, err
}

func (sc *simulationClient) addAgreement(campaignID, kind, stakeholderID string, rate decimal.Decimal) error {
	return sc.call("agreement", http.MethodPost, "/api/v1/internal/campaigns/"+campaignID+"/agreements", map[string]interface{}{
		"stakeholder_id": stakeholderID,
		"kind":           kind,
		"rate":           rate,
	}, "", nil)
}

func (sc *simulationClient) fund(campaignID string, amount money.Amount, outcome string) error {
	var tx types.FundingTransaction
	err := sc.call("record", http.MethodPost, "/api/v1/internal/campaigns/"+campaignID+"/fundings", map[string]interface{}{
		"backer_id":   "backer-" + uuid.New().String()[:8],
		"amount":      amount,
		"gateway_fee": amount.MulRate(decimal.RequireFromString("0.029")),
	}, uuid.New().String(), &tx)
	if err != nil {
		return err
	}
	return sc.call("status", http.MethodPost, "/api/v1/internal/fundings/"+tx.TransactionID+"/status", map[string]string{
		"status": outcome,
	}, "", nil)
}

func (sc *simulationClient) triggerSettlement(campaignID string) (*settlement.SettlementResult, error) {
	var result settlement.SettlementResult
	err := sc.call("settle", http.MethodPost, "/api/v1/internal/campaigns/"+campaignID+"/settlement", nil, "", &result)
	return &result, err
}

func (sc *simulationClient) checkConsistency(campaignID string) (*consistency.Report, error) {
	var report consistency.Report
	err := sc.call("consistency", http.MethodGet, "/api/v1/internal/campaigns/"+campaignID+"/consistency", nil, "", &report)
	return &report, err
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

type simCampaign struct {
	id      string
	target  money.Amount
	reaches bool
}

// main runs the settlement simulation against a running server
func main() {
	baseURL := os.Getenv("SIM_SERVER_ADDRESS")
	if baseURL == "" {
		baseURL = defaultServer
	}

	simClient, err := newSimulationClient(baseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	start := time.Now()
	numCampaigns := rand.Intn(maxCampaigns-minCampaigns) + minCampaigns
	log.Info().Int("campaigns", numCampaigns).Msg("Starting simulation")

	campaigns := make([]simCampaign, 0, numCampaigns)
	for i := 0; i < numCampaigns; i++ {
		target := money.Amount((rand.Intn(90) + 10) * 10_000)
		c, err := simClient.createCampaign(target)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create campaign")
			continue
		}

		// Partners and collaborators take at most half of the net amount.
		partners, collaborators := rand.Intn(3), rand.Intn(3)
		for j := 0; j < partners; j++ {
			if err := simClient.addAgreement(c.CampaignID, types.StakeholderPartner, fmt.Sprintf("partner-%d", j), decimal.New(int64(rand.Intn(15)+1), -2)); err != nil {
				log.Error().Err(err).Str("campaign_id", c.CampaignID).Msg("Failed to add partner")
			}
		}
		for j := 0; j < collaborators; j++ {
			if err := simClient.addAgreement(c.CampaignID, types.StakeholderCollaborator, fmt.Sprintf("collaborator-%d", j), decimal.New(int64(rand.Intn(10)+1), -2)); err != nil {
				log.Error().Err(err).Str("campaign_id", c.CampaignID).Msg("Failed to add collaborator")
			}
		}

		campaigns = append(campaigns, simCampaign{id: c.CampaignID, target: target, reaches: rand.Float64() < 0.7})
	}

	// Fund campaigns concurrently; one in ten payments fails at the gateway.
	jobs := make(chan simCampaign)
	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for c := range jobs {
				goal := c.target
				if !c.reaches {
					goal = c.target / 2
				}
				var raised money.Amount
				for raised < goal {
					amount := money.Amount((rand.Intn(20) + 1) * 1_000)
					outcome := types.FundingStatusSucceeded
					if rand.Float64() < 0.1 {
						outcome = types.FundingStatusFailed
					}
					if err := simClient.fund(c.id, amount, outcome); err != nil {
						log.Error().Err(err).Int("worker_id", workerID).Str("campaign_id", c.id).Msg("Failed to fund campaign")
						break
					}
					if outcome == types.FundingStatusSucceeded {
						raised += amount
					}
				}
				log.Info().Int("worker_id", workerID).Str("campaign_id", c.id).Int64("raised", raised.Int64()).Msg("Campaign funded")
			}
		}(w)
	}
	for _, c := range campaigns {
		jobs <- c
	}
	close(jobs)
	wg.Wait()

	// Duplicate triggers must all observe the same settlement.
	var settled, duplicatesDiverged, inconsistent int
	for _, c := range campaigns {
		ids := make([]string, duplicateTriggers)
		var tw sync.WaitGroup
		for i := 0; i < duplicateTriggers; i++ {
			tw.Add(1)
			go func(i int) {
				defer tw.Done()
				result, err := simClient.triggerSettlement(c.id)
				if err != nil {
					log.Error().Err(err).Str("campaign_id", c.id).Msg("Settlement trigger failed")
					return
				}
				if result.Settlement != nil {
					ids[i] = result.Settlement.SettlementID
				}
			}(i)
		}
		tw.Wait()

		if ids[0] != "" {
			settled++
		}
		for _, id := range ids[1:] {
			if id != ids[0] {
				duplicatesDiverged++
				log.Error().Str("campaign_id", c.id).Strs("settlement_ids", ids).Msg("Duplicate triggers returned different settlements")
				break
			}
		}

		report, err := simClient.checkConsistency(c.id)
		if err != nil {
			log.Error().Err(err).Str("campaign_id", c.id).Msg("Consistency check failed")
			continue
		}
		if !report.Consistent() {
			inconsistent++
			log.Warn().
				Str("campaign_id", c.id).
				Int64("cached_delta", report.CachedDelta.Int64()).
				Int64("settlement_delta", report.SettlementDelta.Int64()).
				Msg("Campaign drift detected")
		}
	}

	duration := time.Since(start)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SETTLEMENT SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf(`
Campaigns:          %d
Settled:            %d
Diverged triggers:  %d
Inconsistent:       %d
Duration:           %v
`, len(campaigns), settled, duplicatesDiverged, inconsistent, duration.Round(time.Millisecond))

	log.Info().
		Int("campaigns", len(campaigns)).
		Int("settled", settled).
		Int("diverged", duplicatesDiverged).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}
