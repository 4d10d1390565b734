// Package keyboard arranges question choices into inline keyboard rows.
// Domain choices are partitioned from navigation choices so each group gets
// its own layout: domain choices are balanced across rows, navigation choices
// are grouped by kind.
package keyboard

import (
	"go.uber.org/zap"

	"github.com/chatform/survey-engine/internal/model"
)

const (
	splitRowItems = 3
	maxRows       = 10
)

// Button is one rendered keyboard entry.
type Button struct {
	Label string
	Data  string
	URL   string
	Pay   bool
}

func newButton(c model.Choice) Button {
	b := Button{Label: c.DisplayLabel(), Data: c.CallbackData()}
	if c.IsURL() {
		b.URL = c.Value
	}
	return b
}

// Layout arranges choices into keyboard rows. maxPerRow caps the
// automatically balanced row width when positive. Choices without a display
// label cannot become buttons; they are logged and skipped. A nil result
// means there is nothing to render.
func Layout(choices []model.Choice, maxPerRow int, log *zap.Logger) [][]Button {
	if len(choices) == 0 {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}

	var domain, system []model.Choice
	for _, c := range choices {
		switch {
		case c.Is(model.NewKeyboardLineValue):
			domain = append(domain, c)
		case c.DisplayLabel() == "":
			log.Error("choice has no label, not rendered",
				zap.String("value", c.Value), zap.String("param", c.Param))
		case c.IsSystem():
			system = append(system, c)
		default:
			domain = append(domain, c)
		}
	}

	perRow := elementsPerRow(domainCount(domain))
	if maxPerRow > 0 && perRow > maxPerRow {
		perRow = maxPerRow
	}

	var rows [][]Button
	var current []Button
	n := 1
	for _, c := range domain {
		if c.Is(model.NewKeyboardLineValue) {
			n = 1
			rows = append(rows, current)
			current = nil
			continue
		}
		current = append(current, newButton(c))
		if n == perRow {
			n = 1
			rows = append(rows, current)
			current = nil
			continue
		}
		n++
	}
	if len(current) != 0 {
		rows = append(rows, current)
	}

	// Navigation choices: page navigation shares one row, question navigation
	// (Back, Skip, Cancel) shares another. Pay always lands first on the first
	// row.
	questionNavAdded := false
	pageNavAdded := false
	current = nil
	started := false
	for _, c := range system {
		if c.Is(model.PayValue) {
			payButton := Button{Label: c.DisplayLabel(), Data: c.CallbackData(), Pay: true}
			if len(rows) == 0 {
				current = append([]Button{payButton}, current...)
				started = true
			} else {
				rows[0] = append([]Button{payButton}, rows[0]...)
			}
			continue
		}
		switch {
		case !pageNavAdded && (c.Is(model.PrevPageValue) || c.Is(model.CurrPageValue) || c.Is(model.NextPageValue)):
			if started {
				rows = append(rows, current)
			}
			pageNavAdded = true
			current = nil
			started = true
		case !questionNavAdded && (c.Is(model.BackValue) || c.Is(model.SkipValue) || c.Is(model.CancelValue)):
			if started {
				rows = append(rows, current)
			}
			questionNavAdded = true
			current = nil
			started = true
		}
		if !started {
			started = true
		}
		current = append(current, newButton(c))
	}
	if started && len(current) != 0 {
		rows = append(rows, current)
	}

	if len(rows) == 0 {
		return nil
	}
	return rows
}

// domainCount counts renderable domain choices, ignoring row-break hints.
func domainCount(domain []model.Choice) int {
	n := 0
	for _, c := range domain {
		if !c.Is(model.NewKeyboardLineValue) {
			n++
		}
	}
	return n
}

// elementsPerRow balances the row width: the count is halved until rows stay
// under the cap, and never drops below the minimum split size.
func elementsPerRow(total int) int {
	rows := 1
	for total > splitRowItems && rows < maxRows {
		total /= 2
		rows *= 2
	}
	if total < splitRowItems {
		return splitRowItems
	}
	return total
}
