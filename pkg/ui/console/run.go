// Package console is a terminal simulator that feeds typed lines through
// the bridge's dispatch pipeline as if they came from the IM gateway.
package console

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"onebridge/pkg/onebot"
)

// Reply is what the pipeline did with one simulated message.
type Reply struct {
	Route  string
	Plugin string
	// Action and Text are set only when an outbound action was produced.
	Action string
	Text   string
}

// DispatchFunc runs one message through the pipeline.
type DispatchFunc func(ctx context.Context, event onebot.MessageEvent) (Reply, error)

// Identity is who the console speaks as.
type Identity struct {
	UserID   int64
	Nickname string
	GroupID  int64
	Provider string
	Model    string
}

func Run(ctx context.Context, dispatch DispatchFunc, identity Identity) error {
	program := tea.NewProgram(newModel(ctx, dispatch, identity), tea.WithMouseCellMotion())
	if _, err := program.Run(); err != nil {
		return err
	}

	fmt.Println(renderGoodbyeBanner())
	return nil
}

func renderGoodbyeBanner() string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("25")).
		Padding(1, 2)

	return style.Render("onebridge console closed")
}
