package vk

import (
	"encoding/json"

	"github.com/danpetrov/pandorabot/internal/conversation"
	"github.com/danpetrov/pandorabot/internal/homm3"
)

const (
	colorPrimary  = "primary"
	colorNegative = "negative"
)

type buttonAction struct {
	Type  string `json:"type"`
	Label string `json:"label"`
}

type button struct {
	Action buttonAction `json:"action"`
	Color  string       `json:"color"`
}

type keyboard struct {
	OneTime bool       `json:"one_time"`
	Buttons [][]button `json:"buttons"`
}

func (k *keyboard) addRow() {
	k.Buttons = append(k.Buttons, nil)
}

func (k *keyboard) addButton(label, color string) {
	if len(k.Buttons) == 0 {
		k.addRow()
	}
	last := len(k.Buttons) - 1
	k.Buttons[last] = append(k.Buttons[last], button{
		Action: buttonAction{Type: "text", Label: label},
		Color:  color,
	})
}

func (k *keyboard) render() string {
	raw, err := json.Marshal(k)
	if err != nil {
		return removeKeyboardPayload
	}
	return string(raw)
}

// removeKeyboardPayload strips any previously rendered keyboard.
const removeKeyboardPayload = `{"buttons":[],"one_time":true}`

// guardNumberKeyboard renders the first six guard brackets two per row,
// followed by a cancel row.
func guardNumberKeyboard() string {
	kb := &keyboard{}
	for idx, label := range homm3.GuardNumbers[:6] {
		if idx != 0 && idx%2 == 0 {
			kb.addRow()
		}
		kb.addButton(label, colorPrimary)
	}
	kb.addRow()
	kb.addButton(conversation.CancelText, colorNegative)
	return kb.render()
}

// townKeyboard renders the sorted town names three per row, followed by a
// cancel row.
func townKeyboard() string {
	kb := &keyboard{}
	for idx, town := range homm3.SortedTowns() {
		if idx != 0 && idx%3 == 0 {
			kb.addRow()
		}
		kb.addButton(town, colorPrimary)
	}
	kb.addRow()
	kb.addButton(conversation.CancelText, colorNegative)
	return kb.render()
}
