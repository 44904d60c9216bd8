// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package strategy

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/mevog/warden/internal/metrics"
	"github.com/mevog/warden/internal/oplog"
)

// DefaultScoreboardPath is where rankings persist between runs.
const DefaultScoreboardPath = "state/scoreboard.json"

// Metrics are the raw per-strategy inputs one scoring pass consumes.
type Metrics struct {
	PnL           float64
	Returns       []float64
	Risk          float64
	Volatility    float64
	Wins          int
	Losses        int
	Latencies     []float64
	Opportunities int
}

// Score is one ranked scoreboard row.
type Score struct {
	Strategy           string  `json:"strategy"`
	Score              float64 `json:"score"`
	PnL                float64 `json:"pnl"`
	Sharpe             float64 `json:"sharpe"`
	Risk               float64 `json:"risk"`
	Volatility         float64 `json:"volatility"`
	WinRate            float64 `json:"win_rate"`
	AvgLatency         float64 `json:"avg_latency"`
	OpportunityDensity float64 `json:"opportunity_density"`
	Decayed            bool    `json:"decayed"`
}

// Compute scores one strategy. The formula rewards pnl, consistency and
// opportunity density and charges for risk, volatility and latency.
func Compute(sid string, m Metrics) Score {
	returns := m.Returns
	if len(returns) == 0 {
		returns = []float64{m.PnL}
	}
	sharpe := 0.0
	if len(returns) > 1 {
		if sd := stdev(returns); sd > 0 {
			sharpe = mean(returns) / sd
		}
	}
	winRate := float64(m.Wins) / math.Max(float64(m.Wins+m.Losses), 1)
	avgLatency := 0.0
	if len(m.Latencies) > 0 {
		avgLatency = mean(m.Latencies)
	}
	density := float64(m.Opportunities) / math.Max(float64(len(m.Latencies)), 1)

	score := m.PnL +
		sharpe*100 +
		winRate*10 -
		m.Risk*100 -
		m.Volatility*10 -
		avgLatency*0.1 +
		density*5

	return Score{
		Strategy:           sid,
		Score:              score,
		PnL:                m.PnL,
		Sharpe:             sharpe,
		Risk:               m.Risk,
		Volatility:         m.Volatility,
		WinRate:            winRate,
		AvgLatency:         avgLatency,
		OpportunityDensity: density,
	}
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stdev is the sample standard deviation.
func stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}

// DecayModel watches score history per strategy and flags alpha decay when
// the recent trend slopes down past the sensitivity.
type DecayModel struct {
	window      int
	sensitivity float64
	history     map[string][]float64
}

// NewDecayModel uses a five-sample window and flags slopes below -0.05.
func NewDecayModel() *DecayModel {
	return &DecayModel{window: 5, sensitivity: 0.05, history: map[string][]float64{}}
}

// Observe appends a score to the strategy history, keeping the window.
func (d *DecayModel) Observe(sid string, score float64) {
	hist := append(d.history[sid], score)
	if len(hist) > d.window {
		hist = hist[len(hist)-d.window:]
	}
	d.history[sid] = hist
}

// Decayed reports whether the strategy's score trend has turned down. It
// stays false until a full window of observations exists.
func (d *DecayModel) Decayed(sid string) bool {
	hist := d.history[sid]
	if len(hist) < d.window {
		return false
	}
	return slope(hist) < -d.sensitivity
}

// slope is the least-squares slope of y over x = 0..n-1.
func slope(ys []float64) float64 {
	n := float64(len(ys))
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// Scoreboard ranks strategies, tracks decay and persists the result for
// the dashboard and the mutation engine.
type Scoreboard struct {
	path  string
	model *DecayModel
	log   *oplog.Logger
	reg   *metrics.Registry
}

// ScoreboardOption configures a Scoreboard.
type ScoreboardOption func(*Scoreboard)

// WithScoreboardPath overrides where rankings persist.
func WithScoreboardPath(path string) ScoreboardOption {
	return func(s *Scoreboard) { s.path = path }
}

// WithScoreboardLogger sets an explicit logger.
func WithScoreboardLogger(l *oplog.Logger) ScoreboardOption {
	return func(s *Scoreboard) { s.log = l }
}

// WithScoreboardMetrics sets the registry scores publish to.
func WithScoreboardMetrics(r *metrics.Registry) ScoreboardOption {
	return func(s *Scoreboard) { s.reg = r }
}

// WithDecayModel replaces the default decay model.
func WithDecayModel(m *DecayModel) ScoreboardOption {
	return func(s *Scoreboard) { s.model = m }
}

// NewScoreboard builds a scoreboard.
func NewScoreboard(opts ...ScoreboardOption) *Scoreboard {
	s := &Scoreboard{path: DefaultScoreboardPath}
	for _, opt := range opts {
		opt(s)
	}
	if s.model == nil {
		s.model = NewDecayModel()
	}
	if s.log == nil {
		s.log = oplog.New("strategy_scoreboard")
	}
	if s.reg == nil {
		s.reg = metrics.Default()
	}
	return s
}

// Rank scores every strategy, sorts best-first, persists the board and
// returns it. Decayed strategies stay on the board but carry the flag; the
// mutation engine decides what to do about them.
func (s *Scoreboard) Rank(all map[string]Metrics) ([]Score, error) {
	board := make([]Score, 0, len(all))
	for sid, m := range all {
		sc := Compute(sid, m)
		s.model.Observe(sid, sc.Score)
		sc.Decayed = s.model.Decayed(sid)
		if sc.Decayed {
			s.reg.Inc("decay_alerts_total")
		}
		s.reg.Set("strategy_score_"+sid, sc.Score)
		board = append(board, sc)
	}
	sort.Slice(board, func(i, j int) bool {
		if board[i].Score != board[j].Score {
			return board[i].Score > board[j].Score
		}
		return board[i].Strategy < board[j].Strategy
	})
	if err := s.persist(board); err != nil {
		return nil, err
	}
	leader := ""
	if len(board) > 0 {
		leader = board[0].Strategy
	}
	_ = s.log.Log(oplog.Entry{
		Event:     "strategy_scores",
		RiskLevel: "low",
		Extra:     map[string]any{"ranked": len(board), "leader": leader},
	})
	return board, nil
}

func (s *Scoreboard) persist(board []Score) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create scoreboard dir: %w", err)
	}
	raw, err := json.MarshalIndent(board, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return fmt.Errorf("write scoreboard: %w", err)
	}
	return nil
}

// Path returns where the board persists.
func (s *Scoreboard) Path() string { return s.path }

// ReadScoreboard loads a persisted ranking.
func ReadScoreboard(path string) ([]Score, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var board []Score
	if err := json.Unmarshal(raw, &board); err != nil {
		return nil, fmt.Errorf("parse scoreboard %s: %w", path, err)
	}
	return board, nil
}
