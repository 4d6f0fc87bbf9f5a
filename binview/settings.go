package main

import (
	"fmt"
	"strconv"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/fill"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/ultrasonic"
)

// showSettingsDialog displays a settings dialog with tabs for the installation options.
func showSettingsDialog(state *appState) {
	tabs := container.NewAppTabs(
		createSensorsTab(state),
		createGeometryTab(state),
		createMockTab(state),
	)

	content := container.NewBorder(nil, nil, nil, nil, tabs)
	content.Resize(fyne.NewSize(600, 500))

	d := dialog.NewCustom("Settings", "Close", content, state.window)
	d.Resize(fyne.NewSize(600, 500))
	d.Show()
}

// saveConfig validates and writes the configuration, restarting live
// sampling when restart is set.
func saveConfig(state *appState, restart bool) {
	if err := state.cfg.Validate(); err != nil {
		showError(state, "invalid settings", err)
		return
	}
	if err := state.cfg.Save(state.configPath); err != nil {
		showError(state, "failed to save config", err)
		return
	}
	state.binWidget.SetGeometry(fill.GeometryFromConfig(state.cfg.Geometry))

	if restart && state.chain != nil {
		stopLive(state.chain)
		state.chain = nil
		handleConnect(state)
	}
}

// portSelect builds a select listing the serial ports, keeping current even
// if it is not present.
func portSelect(current string) (*widget.Select, map[string]string) {
	ports, err := ultrasonic.Ports()
	options := []string{}
	portMap := make(map[string]string) // Display name to port name

	if err == nil {
		for _, port := range ports {
			display := port.Name
			if port.Description != "" && port.Description != port.Name {
				display = fmt.Sprintf("%s (%s)", port.Name, port.Description)
			}
			options = append(options, display)
			portMap[display] = port.Name
		}
	}

	selected := current
	found := false
	for _, opt := range options {
		if portMap[opt] == current {
			selected = opt
			found = true
			break
		}
	}
	if !found && current != "" {
		options = append(options, current)
		portMap[current] = current
	}

	sel := widget.NewSelect(options, nil)
	if selected != "" {
		sel.SetSelected(selected)
	}
	return sel, portMap
}

// createSensorsTab creates the rangefinder port tab.
func createSensorsTab(state *appState) *container.TabItem {
	shallowSelect, shallowMap := portSelect(state.cfg.Sensors.Shallow.Port)
	steepSelect, steepMap := portSelect(state.cfg.Sensors.Steep.Port)

	baudEntry := widget.NewEntry()
	baudEntry.SetText(strconv.Itoa(state.cfg.Sensors.BaudRate))

	resolve := func(sel *widget.Select, m map[string]string) string {
		if name := m[sel.Selected]; name != "" {
			return name
		}
		return sel.Selected
	}

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Shallow (15°) Port", Widget: shallowSelect},
			{Text: "Steep (60°) Port", Widget: steepSelect},
			{Text: "Baud Rate", Widget: baudEntry},
		},
		OnSubmit: func() {
			if p := resolve(shallowSelect, shallowMap); p != "" {
				state.cfg.Sensors.Shallow.Port = p
			}
			if p := resolve(steepSelect, steepMap); p != "" {
				state.cfg.Sensors.Steep.Port = p
			}
			if baud, err := strconv.Atoi(baudEntry.Text); err == nil {
				state.cfg.Sensors.BaudRate = baud
			}
			saveConfig(state, !state.useMock)
		},
	}

	return container.NewTabItem("Sensors", form)
}

// floatEntry binds an entry to *v, parsed on submit.
type floatEntry struct {
	entry *widget.Entry
	v     *float64
}

func newFloatEntry(v *float64, format string) floatEntry {
	e := widget.NewEntry()
	e.SetText(fmt.Sprintf(format, *v))
	return floatEntry{entry: e, v: v}
}

func (f floatEntry) apply() {
	if x, err := strconv.ParseFloat(f.entry.Text, 64); err == nil {
		*f.v = x
	}
}

// createGeometryTab creates the container and mount tab.
func createGeometryTab(state *appState) *container.TabItem {
	g := &state.cfg.Geometry
	fields := []struct {
		label string
		entry floatEntry
	}{
		{"Length (in)", newFloatEntry(&g.Length, "%.1f")},
		{"Width (in)", newFloatEntry(&g.Width, "%.1f")},
		{"Height (in)", newFloatEntry(&g.Height, "%.1f")},
		{"Shallow Angle (°)", newFloatEntry(&g.Shallow.Angle, "%.1f")},
		{"Shallow Offset (in)", newFloatEntry(&g.Shallow.OffsetDistance, "%.2f")},
		{"Shallow Height Offset (in)", newFloatEntry(&g.Shallow.OffsetHeight, "%.2f")},
		{"Steep Angle (°)", newFloatEntry(&g.Steep.Angle, "%.1f")},
		{"Steep Offset (in)", newFloatEntry(&g.Steep.OffsetDistance, "%.2f")},
		{"Steep Height Offset (in)", newFloatEntry(&g.Steep.OffsetHeight, "%.2f")},
		{"Detection Ratio", newFloatEntry(&g.DetectionRatio, "%.2f")},
	}

	clampCheck := widget.NewCheck("", nil)
	clampCheck.SetChecked(g.Clamp)

	form := &widget.Form{
		OnSubmit: func() {
			for _, f := range fields {
				f.entry.apply()
			}
			g.Clamp = clampCheck.Checked
			saveConfig(state, true)
		},
	}
	for _, f := range fields {
		form.Append(f.label, f.entry.entry)
	}
	form.Append("Clamp to 0-100%", clampCheck)

	return container.NewTabItem("Geometry", container.NewVScroll(form))
}

// createMockTab creates the simulated sensor tab. Distances apply to a
// running mock immediately.
func createMockTab(state *appState) *container.TabItem {
	m := &state.cfg.Mock
	shallow := newFloatEntry(&m.ShallowDistance, "%.1f")
	steep := newFloatEntry(&m.SteepDistance, "%.1f")
	noise := newFloatEntry(&m.Noise, "%.2f")
	corrupt := newFloatEntry(&m.CorruptRate, "%.2f")
	silent := newFloatEntry(&m.SilentRate, "%.2f")

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Shallow Distance (in)", Widget: shallow.entry},
			{Text: "Steep Distance (in)", Widget: steep.entry},
			{Text: "Noise (in)", Widget: noise.entry},
			{Text: "Corrupt Rate", Widget: corrupt.entry},
			{Text: "Silent Rate", Widget: silent.entry},
		},
		OnSubmit: func() {
			for _, f := range []floatEntry{shallow, steep, noise, corrupt, silent} {
				f.apply()
			}
			if c := state.chain; c != nil && c.shallowMock != nil {
				c.shallowMock.SetDistance(m.ShallowDistance)
				c.steepMock.SetDistance(m.SteepDistance)
			}
			saveConfig(state, false)
		},
	}

	return container.NewTabItem("Mock", form)
}
