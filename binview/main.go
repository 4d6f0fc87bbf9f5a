// Command binview is the installation tool: it shows both rangefinders and
// the live fill estimate so the sensors can be aimed and the geometry tuned.
package main

import (
	"flag"
	"log"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/config"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/fill"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/history"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/logging"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/scope"
)

// trendWindow is the time span shown by the trend plot.
const trendWindow = 10 * time.Minute

func main() {
	var (
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag   = flag.Bool("mock", false, "Use simulated sensors instead of the serial ports")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := logging.New("binview", cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Flush()

	application := app.NewWithID("io.greencampus.binview")
	window := application.NewWindow("Smart Dumpster")
	window.Resize(fyne.NewSize(1100, 750))
	window.CenterOnScreen()

	state := &appState{
		cfg:        cfg,
		configPath: *configFlag,
		log:        logger,
		window:     window,
		useMock:    *mockFlag,
		tracker:    history.New(trendWindow, cfg.Metrics.DropThreshold),
	}

	state.binWidget = scope.NewBin(fill.GeometryFromConfig(cfg.Geometry))
	state.trendWidget = scope.NewTrend(trendWindow)

	state.tracker.OnUpdate(func(points []history.Point, rates []float64, collections []history.Collection) {
		fyne.Do(func() {
			state.trendWidget.UpdateData(points, rates, collections)
		})
	})

	content := container.NewBorder(
		createToolbar(state),
		nil,
		nil,
		nil,
		container.NewVSplit(state.binWidget, state.trendWidget),
	)

	window.SetContent(content)
	window.SetOnClosed(func() {
		stopLive(state.chain)
		state.chain = nil
	})
	window.ShowAndRun()
}

// appState holds the application state.
type appState struct {
	cfg        *config.Config
	configPath string
	log        logging.Logger
	window     fyne.Window
	useMock    bool

	binWidget   *scope.BinWidget
	trendWidget *scope.TrendWidget
	tracker     *history.History

	connectBtn *widget.Button
	shallowBtn *widget.Button
	steepBtn   *widget.Button
	statusText *widget.Label

	chain *liveChain // nil when not connected
}

// createToolbar creates the toolbar with Connect, Settings and the sensor indicators.
func createToolbar(state *appState) fyne.CanvasObject {
	state.connectBtn = widget.NewButtonWithIcon("", theme.LoginIcon(), func() {
		handleConnect(state)
	})

	settingsBtn := widget.NewButtonWithIcon("", theme.SettingsIcon(), func() {
		showSettingsDialog(state)
	})

	state.shallowBtn = widget.NewButtonWithIcon("15°", theme.VisibilityIcon(), nil)
	state.shallowBtn.Disable()
	state.steepBtn = widget.NewButtonWithIcon("60°", theme.VisibilityIcon(), nil)
	state.steepBtn.Disable()

	state.statusText = widget.NewLabel("disconnected")

	return container.NewBorder(
		nil,
		nil,
		container.NewHBox(state.connectBtn, settingsBtn, state.statusText),
		container.NewHBox(state.shallowBtn, state.steepBtn),
		nil,
	)
}

// handleConnect starts or stops live sampling.
func handleConnect(state *appState) {
	if state.chain != nil {
		stopLive(state.chain)
		state.chain = nil
		state.statusText.SetText("disconnected")
		updateSensorButton(state.shallowBtn, false)
		updateSensorButton(state.steepBtn, false)
		state.log.Infof("live sampling stopped")
		return
	}

	chain, err := startLive(state)
	if err != nil {
		showError(state, "failed to start sampling", err)
		return
	}
	state.chain = chain
	if state.useMock {
		state.statusText.SetText("sampling (mock)")
	} else {
		state.statusText.SetText("sampling")
	}
	state.log.Infof("live sampling started")
}
