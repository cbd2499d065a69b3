package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/michaelbrown/proctor/internal/results"
	"github.com/michaelbrown/proctor/internal/storage"
)

// Show opens the interactive reviewer for one run. Overrides and reverts go
// straight through the store, so the reviewed state is what every other
// surface sees afterwards.
func Show(store storage.Store, runID string) error {
	ctx := context.Background()

	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("loading run: %w", err)
	}
	rs, err := store.ListResults(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("loading results: %w", err)
	}
	if len(rs) == 0 {
		color.Yellow("Run %s has no recorded results", shortID(run.ID))
		return nil
	}

	app := tview.NewApplication()

	// List of tests (left side)
	list := tview.NewList().
		ShowSecondaryText(false).
		SetHighlightFullLine(true)
	list.SetMainTextColor(tview.Styles.PrimaryTextColor).
		SetSelectedTextColor(tcell.ColorWhite).
		SetSelectedBackgroundColor(tcell.ColorDarkCyan)

	listItemText := func(index int) string {
		res := rs[index]
		label := fmt.Sprintf("%s [yellow]%d.[white] %s", statusTag(res.Status), index+1, res.TestName)
		if res.IsOverridden {
			label += " [gray](overridden)[white]"
		}
		return label
	}
	for i := range rs {
		list.AddItem(listItemText(i), "", 0, nil)
	}

	// Stats header and detail pane (right side)
	statsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	detailsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(true).
		SetWordWrap(true)

	headerView := tview.NewTextView().
		SetTextAlign(tview.AlignCenter).
		SetDynamicColors(true)

	updateHeader := func() {
		sum := results.Summarize(rs)
		headerView.SetText(fmt.Sprintf(
			" Run %s | %s (%d tests, %d passed) | ↑↓ navigate, [yellow]O[white] override, [yellow]R[white] revert, [yellow]Q[white] quit ",
			shortID(run.ID), run.SuiteName, sum.Total, sum.Passed))
	}

	updateDetails := func() {
		index := list.GetCurrentItem()
		if index >= 0 && index < len(rs) {
			res := rs[index]
			statsView.SetText(fmt.Sprintf("[cyan]test:[white] [yellow]%s[white]  [cyan]status:[white] %s%s[white]",
				res.TestName, statusTag(res.Status), res.Status))
			detailsView.SetText(formatResultDetails(res))
		}
	}

	refresh := func(index int) {
		list.SetItemText(index, listItemText(index), "")
		updateHeader()
		updateDetails()
	}

	// Override form shown as an overlay
	pages := tview.NewPages()
	form := tview.NewForm()
	formStatus := tview.NewTextView().SetDynamicColors(true)

	closeForm := func() {
		pages.HidePage("override")
		app.SetFocus(list)
	}

	openOverride := func(index int) {
		res := rs[index]
		status := string(results.StatusPass)
		reason := ""

		formStatus.SetText("")
		form.Clear(true)
		form.SetTitle(fmt.Sprintf(" Override %q ", res.TestName)).SetBorder(true)
		form.AddDropDown("New status", []string{"pass", "fail"}, 0, func(option string, _ int) {
			status = option
		})
		form.AddInputField("Reason", "", 50, nil, func(text string) {
			reason = text
		})
		form.AddButton("Apply", func() {
			updated, err := store.OverrideResult(ctx, run.ID, res.TestName, results.Status(status), reason)
			if err != nil {
				formStatus.SetText("[red]" + err.Error() + "[white]")
				return
			}
			rs[index] = updated
			closeForm()
			refresh(index)
		})
		form.AddButton("Cancel", closeForm)

		pages.ShowPage("override")
		app.SetFocus(form)
	}

	revert := func(index int) {
		res := rs[index]
		updated, err := store.RevertResult(ctx, run.ID, res.TestName)
		if err != nil {
			statsView.SetText("[red]" + err.Error() + "[white]")
			return
		}
		rs[index] = updated
		refresh(index)
	}

	list.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyUp, tcell.KeyDown:
			return event
		case tcell.KeyEnter, tcell.KeyRight:
			app.SetFocus(detailsView)
			return nil
		case tcell.KeyCtrlC:
			app.Stop()
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case 'o', 'O':
				openOverride(list.GetCurrentItem())
				return nil
			case 'r', 'R':
				revert(list.GetCurrentItem())
				return nil
			case 'q', 'Q':
				app.Stop()
				return nil
			}
		}
		return event
	})

	detailsView.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyLeft, tcell.KeyEsc:
			app.SetFocus(list)
			return nil
		case tcell.KeyCtrlC:
			app.Stop()
			return nil
		}
		return event
	})

	form.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEsc {
			closeForm()
			return nil
		}
		return event
	})

	list.SetChangedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
		updateDetails()
	})

	updateHeader()
	updateDetails()

	rightSide := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(statsView, 2, 0, false).
		AddItem(detailsView, 0, 1, false)

	flex := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(list, 0, 1, true).
		AddItem(rightSide, 0, 2, false)

	mainLayout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(headerView, 1, 0, false).
		AddItem(flex, 0, 1, true)

	formFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(form, 0, 1, true).
		AddItem(formStatus, 1, 0, false)

	pages.AddPage("main", mainLayout, true, true)
	pages.AddPage("override", centered(formFlex, 60, 12), true, false)

	if err := app.SetRoot(pages, true).SetFocus(list).Run(); err != nil {
		return fmt.Errorf("running reviewer: %w", err)
	}
	return nil
}

// centered wraps a primitive in spacer flexes so it floats over the page.
func centered(p tview.Primitive, width, height int) tview.Primitive {
	return tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().
			SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(p, height, 0, true).
			AddItem(nil, 0, 1, false), width, 0, true).
		AddItem(nil, 0, 1, false)
}

func statusTag(s results.Status) string {
	switch s {
	case results.StatusPass:
		return "[green]✓[white] "
	case results.StatusFail:
		return "[red]✗[white] "
	case results.StatusError:
		return "[red]![white] "
	default:
		return "[gray]-[white] "
	}
}

// formatResultDetails renders one result for the detail pane.
func formatResultDetails(res *results.TestResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s%s[white]  (%d ms)\n\n", statusTag(res.Status), res.TestName, res.DurationMs)

	if res.Message != "" {
		fmt.Fprintf(&b, "[yellow]Message:[white]\n%s\n\n", tview.Escape(res.Message))
	}

	if res.IsOverridden {
		fmt.Fprintf(&b, "[yellow]Overridden[white] (computed %s): %s\n\n", res.OriginalStatus, tview.Escape(res.OverrideReason))
	} else if res.OverrideReason != "" {
		fmt.Fprintf(&b, "[gray]Reviewer note: %s[white]\n\n", tview.Escape(res.OverrideReason))
	}

	if len(res.StepResults) > 0 {
		fmt.Fprintf(&b, "[yellow]Steps:[white]\n")
		for i, sr := range res.StepResults {
			mark := "[green]✓[white]"
			if !sr.Success {
				mark = "[red]✗[white]"
			}
			label := sr.Action
			if label == "" {
				label = sr.Assert
			}
			if sr.Description != "" {
				label = sr.Description
			}
			fmt.Fprintf(&b, "  %s %d. %s\n", mark, i+1, tview.Escape(label))
			if sr.Error != "" {
				fmt.Fprintf(&b, "     [red]%s[white]\n", tview.Escape(sr.Error))
			}
		}
		fmt.Fprintf(&b, "\n")
	}

	if len(res.Diagnostics) > 0 {
		fmt.Fprintf(&b, "[yellow]Console output:[white]\n")
		for i := range res.Diagnostics {
			if i < 10 {
				fmt.Fprintf(&b, "  %s\n", tview.Escape(res.Diagnostics[i].Summary()))
			}
		}
		if len(res.Diagnostics) > 10 {
			fmt.Fprintf(&b, "  ... and %d more lines\n", len(res.Diagnostics)-10)
		}
		fmt.Fprintf(&b, "\n")
	}

	if res.Screenshot != "" {
		fmt.Fprintf(&b, "[gray]A screenshot was captured; export the run to view it.[white]\n")
	}

	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
