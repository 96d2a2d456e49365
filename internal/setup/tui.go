// Package setup provides the terminal configuration wizard.
package setup

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/m4rkovic/crypto-trade/config"
	"github.com/m4rkovic/crypto-trade/internal/domain"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// wizardConfig mirrors the YAML document the engine loads.
type wizardConfig struct {
	Venues         []string `yaml:"venues"`
	Instruments    []string `yaml:"instruments"`
	TargetNotional string   `yaml:"target_notional"`
	MinSpreadBps   string   `yaml:"min_spread_bps,omitempty"`
	MaxQuoteAge    string   `yaml:"max_quote_age,omitempty"`
	RunMode        string   `yaml:"run_mode,omitempty"`
	Simulation     bool     `yaml:"simulation"`
	WebAddr        string   `yaml:"web_addr,omitempty"`
}

// RunTUI launches the terminal configuration wizard.
func RunTUI() error {
	var (
		venues       []string
		instruments  string
		notionalStr  string
		minSpreadStr string
		quoteAgeStr  string
		runMode      string
		simulation   bool
		webAddr      string
		confirm      bool
	)

	// defaults
	instruments = "BTC_USDT"
	notionalStr = "100"
	minSpreadStr = "20"
	quoteAgeStr = "2s"
	runMode = config.RunModeConservative
	simulation = true
	webAddr = ":8080"

	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(headerStyle.Render("ARBITRAGE CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Let's wire your venues together.\n"))

	// venues
	fmt.Println(stepStyle.Render("STEP 1: VENUES"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Select at least two venues").
				Options(
					huh.NewOption("Binance", config.VenueBinance),
					huh.NewOption("OKX", config.VenueOkx),
					huh.NewOption("Bybit", config.VenueBybit),
					huh.NewOption("Hyperliquid", config.VenueHyperliquid),
				).
				Validate(func(selected []string) error {
					if len(selected) < 2 {
						return fmt.Errorf("arbitrage needs at least two venues")
					}
					return nil
				}).
				Value(&venues),
		),
	).Run()
	if err != nil {
		return err
	}

	// instruments
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("ARBITRAGE CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 2: INSTRUMENTS"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Instruments").
				Description("Comma-separated BASE_QUOTE pairs (e.g. BTC_USDT,ETH_USDT)").
				Value(&instruments).
				Validate(func(s string) error {
					for _, raw := range strings.Split(s, ",") {
						if _, err := domain.PairFromString(strings.TrimSpace(raw)); err != nil {
							return err
						}
					}
					return nil
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	// sizing and thresholds
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("ARBITRAGE CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 3: SIZING AND THRESHOLDS"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Target notional per trade").
				Description("In quote currency (e.g. 100)").
				Value(&notionalStr).
				Validate(validatePositiveDecimal),
			huh.NewInput().
				Title("Minimum spread, bps").
				Description("Opportunities below this gross spread are ignored").
				Value(&minSpreadStr).
				Validate(validatePositiveDecimal),
			huh.NewInput().
				Title("Max quote age").
				Description("Duration string (e.g. 2s, 500ms)").
				Value(&quoteAgeStr).
				Validate(func(s string) error {
					_, err := time.ParseDuration(s)
					return err
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	// mode
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("ARBITRAGE CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 4: MODE"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Run mode").
				Description("Conservative skips stale quotes, permissive trades through them").
				Options(
					huh.NewOption("Conservative", config.RunModeConservative),
					huh.NewOption("Permissive", config.RunModePermissive),
				).
				Value(&runMode),
			huh.NewConfirm().
				Title("Simulation mode?").
				Description("Simulated fills, no real orders").
				Value(&simulation),
			huh.NewInput().
				Title("Dashboard address").
				Description("Leave empty to disable the web dashboard").
				Value(&webAddr),
		),
	).Run()
	if err != nil {
		return err
	}

	// confirmation
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("ARBITRAGE CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("FINAL CONFIRMATION"))

	summary := fmt.Sprintf(
		"Venues: %s\nInstruments: %s\nNotional: %s\nMin spread: %s bps\nMode: %s\nSimulation: %t\n",
		strings.Join(venues, ", "), instruments, notionalStr, minSpreadStr, runMode, simulation,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}

	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	doc := wizardConfig{
		Venues:         venues,
		Instruments:    splitTrimmed(instruments),
		TargetNotional: notionalStr,
		MinSpreadBps:   minSpreadStr,
		MaxQuoteAge:    quoteAgeStr,
		RunMode:        runMode,
		Simulation:     simulation,
		WebAddr:        webAddr,
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}

	filename := "config.gen.yaml"
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(
		fmt.Sprintf("\n✓ Configuration saved to %s\nRun with --config %s", filename, filename)))
	return nil
}

func validatePositiveDecimal(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if d.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func splitTrimmed(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
