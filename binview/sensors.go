package main

import (
	"fmt"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/fill"
)

// updateSensorIndicators highlights each sensor that currently sees trash.
// Uses fyne.Do() since it is called from the sampling goroutine.
func updateSensorIndicators(state *appState, est fill.Estimate, shallowErr, steepErr error) {
	fyne.Do(func() {
		updateSensorButton(state.shallowBtn, shallowErr == nil && est.Shallow.Detected)
		updateSensorButton(state.steepBtn, steepErr == nil && est.Steep.Detected)
		state.shallowBtn.SetText(sensorLabel("15°", float64(est.Shallow.Raw), shallowErr))
		state.steepBtn.SetText(sensorLabel("60°", float64(est.Steep.Raw), steepErr))
	})
}

func sensorLabel(name string, raw float64, err error) string {
	if err != nil {
		return name + " --"
	}
	return fmt.Sprintf("%s %.1f\"", name, raw)
}

// updateSensorButton updates a single indicator's visual state.
func updateSensorButton(btn *widget.Button, detected bool) {
	if detected {
		btn.Importance = widget.HighImportance
	} else {
		btn.Importance = widget.MediumImportance
	}
	btn.Refresh()
}

func showError(state *appState, msg string, err error) {
	state.log.Errorf("%s: %v", msg, err)
	dialog.ShowError(fmt.Errorf("%s: %w", msg, err), state.window)
}
