// Package fleet launches several bots from one YAML file, each as its own
// `quantbot run` child process sharing a base TOML config.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

// DefaultStopGrace is how long a child gets between SIGTERM and SIGKILL.
const DefaultStopGrace = 5 * time.Second

// File is the fleet description.
//
//	config: config.toml
//	bots:
//	  - venue: binance_futures
//	    symbols: [BTCUSDT, ETHUSDT]
//	    mode: paper
//	    account_tag: main
//	    env:
//	      QUANTBOT_RISK_STOP_LOSS_PCT: "0.008"
type File struct {
	// Config is the base TOML every child loads.
	Config    string `yaml:"config"`
	StopGrace string `yaml:"stop_grace"`
	Bots      []Bot  `yaml:"bots"`
}

// Bot is one fleet entry. Each symbol becomes its own process.
type Bot struct {
	Venue          string            `yaml:"venue"`
	Symbols        []string          `yaml:"symbols"`
	AccountTag     string            `yaml:"account_tag"`
	Mode           string            `yaml:"mode"`
	Strategy       string            `yaml:"strategy"`
	TradingEnabled *bool             `yaml:"trading_enabled"`
	Interval       string            `yaml:"interval"`
	OrderNotional  *float64          `yaml:"order_notional"`
	StateDir       string            `yaml:"state_dir"`
	Env            map[string]string `yaml:"env"`
}

// Child is one process to launch.
type Child struct {
	Key string
	Env []string
}

// Load reads and validates a fleet file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fleet: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("fleet: parse %s: %w", path, err)
	}
	if _, err := f.Children(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Grace returns the configured stop grace or DefaultStopGrace.
func (f *File) Grace() (time.Duration, error) {
	if f.StopGrace == "" {
		return DefaultStopGrace, nil
	}
	d, err := time.ParseDuration(f.StopGrace)
	if err != nil {
		return 0, fmt.Errorf("fleet: stop_grace: %w", err)
	}
	return d, nil
}

// Children expands the bots into one child per symbol. Two children may not
// share a bot key, since they would fight over one state directory.
func (f *File) Children() ([]Child, error) {
	if len(f.Bots) == 0 {
		return nil, errors.New("fleet: bots list is empty")
	}
	seen := make(map[string]bool)
	var out []Child
	for i, b := range f.Bots {
		if len(b.Symbols) == 0 {
			return nil, fmt.Errorf("fleet: bot %d: symbols is empty", i)
		}
		for _, sym := range b.Symbols {
			sym = strings.ToUpper(strings.TrimSpace(sym))
			if sym == "" {
				return nil, fmt.Errorf("fleet: bot %d: blank symbol", i)
			}
			key := domain.BotKey(b.Venue, sym, b.AccountTag)
			if seen[key] {
				return nil, fmt.Errorf("fleet: duplicate bot %s", key)
			}
			seen[key] = true
			out = append(out, Child{Key: key, Env: b.environ(sym)})
		}
	}
	return out, nil
}

// environ renders the overrides for one symbol as QUANTBOT_* variables.
// Children never serve HTTP or archive; run `quantbot serve` next to the
// fleet for that.
func (b Bot) environ(symbol string) []string {
	env := map[string]string{
		"QUANTBOT_BOT_SYMBOL":       symbol,
		"QUANTBOT_SERVER_ENABLED":   "false",
		"QUANTBOT_PIPELINE_ENABLED": "false",
	}
	set := func(k, v string) {
		if v != "" {
			env[k] = v
		}
	}
	set("QUANTBOT_BOT_VENUE", b.Venue)
	set("QUANTBOT_BOT_ACCOUNT_TAG", b.AccountTag)
	set("QUANTBOT_BOT_MODE", b.Mode)
	set("QUANTBOT_STRATEGY_NAME", b.Strategy)
	set("QUANTBOT_BOT_INTERVAL", b.Interval)
	set("QUANTBOT_BOT_STATE_DIR", b.StateDir)
	if b.TradingEnabled != nil {
		env["QUANTBOT_BOT_TRADING_ENABLED"] = strconv.FormatBool(*b.TradingEnabled)
	}
	if b.OrderNotional != nil {
		env["QUANTBOT_BOT_ORDER_NOTIONAL"] = strconv.FormatFloat(*b.OrderNotional, 'f', -1, 64)
	}
	for k, v := range b.Env {
		env[k] = v
	}

	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Runner supervises the child processes.
type Runner struct {
	exe    string
	args   []string
	grace  time.Duration
	logger *slog.Logger
}

// NewRunner returns a runner that starts `exe args...` once per child.
func NewRunner(exe string, args []string, grace time.Duration, logger *slog.Logger) *Runner {
	return &Runner{
		exe:    exe,
		args:   args,
		grace:  grace,
		logger: logger.With(slog.String("component", "fleet")),
	}
}

// Run starts every child and waits for all of them to exit. Cancelling ctx
// sends SIGTERM to each child and SIGKILL after the grace period. A child
// that exits on its own does not stop the others; Run returns the joined
// exit errors of children that failed before ctx ended.
func (r *Runner) Run(ctx context.Context, children []Child) error {
	var g errgroup.Group
	errs := make([]error, len(children))

	for i, c := range children {
		cmd := exec.CommandContext(ctx, r.exe, r.args...)
		cmd.Env = append(os.Environ(), c.Env...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
		cmd.WaitDelay = r.grace

		if err := cmd.Start(); err != nil {
			errs[i] = fmt.Errorf("fleet: start %s: %w", c.Key, err)
			continue
		}
		r.logger.Info("bot started", slog.String("bot", c.Key), slog.Int("pid", cmd.Process.Pid))

		g.Go(func() error {
			err := cmd.Wait()
			if err != nil && ctx.Err() == nil {
				r.logger.Error("bot exited", slog.String("bot", c.Key), slog.String("error", err.Error()))
				errs[i] = fmt.Errorf("fleet: %s: %w", c.Key, err)
				return nil
			}
			r.logger.Info("bot stopped", slog.String("bot", c.Key))
			return nil
		})
	}

	_ = g.Wait()
	return errors.Join(errs...)
}
