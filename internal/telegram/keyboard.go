package telegram

import (
	tele "gopkg.in/telebot.v4"

	"github.com/danpetrov/pandorabot/internal/conversation"
)

// replyButtons builds a reply keyboard from rows of labels, with a trailing
// cancel row.
func replyButtons(rows [][]string) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{ResizeKeyboard: true}
	var keyboard []tele.Row
	for _, row := range rows {
		var buttons []tele.Btn
		for _, label := range row {
			buttons = append(buttons, markup.Text(label))
		}
		keyboard = append(keyboard, markup.Row(buttons...))
	}
	keyboard = append(keyboard, markup.Row(markup.Text(conversation.CancelText)))
	markup.Reply(keyboard...)
	return markup
}

// chunk splits labels into rows with up to n labels per row.
func chunk(labels []string, n int) [][]string {
	if n <= 1 {
		out := make([][]string, 0, len(labels))
		for _, l := range labels {
			out = append(out, []string{l})
		}
		return out
	}
	var rows [][]string
	for i := 0; i < len(labels); i += n {
		end := i + n
		if end > len(labels) {
			end = len(labels)
		}
		rows = append(rows, labels[i:end])
	}
	return rows
}
