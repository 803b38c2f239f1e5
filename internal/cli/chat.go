// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat client for a running rigchat server.
//
// Command: chat
// Short:   Chat with a model through the rigchat API
//
// Examples:
//   rigchat chat                         New text chat as user 1
//   rigchat chat --chat 12               Continue chat 12
//   rigchat chat --modality image        New image chat
//   rigchat chat --model mistral         New text chat using mistral
//
// Interactive Commands (during chat):
//   /help, /h           Show available commands
//   /new [text|image]   Start a new chat on the next prompt
//   /model [id]         Show or set the model for the next new chat
//   /history            Show the messages of the current chat
//   /exclude <id>       Leave a message out of future context
//   /include <id>       Put a message back into context
//   /chats              List your chats
//   /quit, /q           Exit chat
//   Ctrl+C              Cancel the current answer
//   Ctrl+D              Exit chat

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/notify"
	"github.com/jeranaias/rigchat/internal/tasks"
	"github.com/jeranaias/rigchat/internal/util"
)

// taskPollInterval is how often a queued prompt's status is checked.
const taskPollInterval = 250 * time.Millisecond

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides line editing and persistent history.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a line editor with history loaded from the config
// directory.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	c := &ChatCLI{line: line, historyFile: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
	return c
}

// ReadInput reads a line, adding non-empty input to the history.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history with owner-only permissions and restores the
// terminal.
func (c *ChatCLI) Close() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			c.line.WriteHistory(f)
			f.Close()
		}
	}
	c.line.Close()
}

// =============================================================================
// SESSION STATE
// =============================================================================

// ChatSession is the state of one interactive chat client.
type ChatSession struct {
	Client *Client
	UserID int64

	// Chat is nil until the first prompt creates one
	Chat *model.Chat

	// Modality and Model apply to the next chat created
	Modality model.Modality
	Model    string

	// Live streams fragments as they arrive
	Live bool

	Out io.Writer
}

// NewChatSession builds a session from parsed arguments.
func NewChatSession(args Args) (*ChatSession, error) {
	modality, err := model.ParseModality(args.Modality)
	if err != nil {
		return nil, &ValidationError{Field: "--modality", Value: args.Modality, Reason: "must be text or image"}
	}
	if args.Model != "" && !model.IsSupported(modality, args.Model) {
		return nil, &ValidationError{
			Field:  "--model",
			Value:  args.Model,
			Reason: fmt.Sprintf("not a supported %s model (see: rigchat models %s)", modality, modality),
		}
	}

	userID := args.UserID
	if userID == 0 {
		userID = 1
	}
	return &ChatSession{
		Client:   NewClient(args.Server, args.Token),
		UserID:   userID,
		Modality: modality,
		Model:    args.Model,
		Live:     IsStdoutTTY(),
		Out:      os.Stdout,
	}, nil
}

// =============================================================================
// CHAT HANDLER
// =============================================================================

// HandleChat runs the interactive chat loop.
func HandleChat(args Args) error {
	if !IsTTY() {
		return &TTYRequiredError{Operation: "chat"}
	}

	session, err := NewChatSession(args)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if args.ChatID != 0 {
		detail, err := session.Client.GetChat(ctx, args.ChatID)
		if err != nil {
			return err
		}
		session.Chat = detail.Chat
		session.Modality = detail.Chat.Modality
	}

	if !args.Quiet {
		session.printWelcome()
	}

	input := NewChatCLI()
	defer input.Close()

	for {
		line, err := input.ReadInput(render(PromptStyle, "rigchat> "))
		if err != nil {
			// Ctrl+C at the prompt or Ctrl+D
			fmt.Fprintln(session.Out)
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			return nil
		}

		if strings.HasPrefix(line, "/") {
			keepGoing, err := session.handleSlashCommand(ctx, line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", render(ErrorStyle, "[Error]"), err)
			}
			if !keepGoing {
				return nil
			}
			continue
		}

		if err := session.Ask(ctx, line); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", render(ErrorStyle, "[Error]"), err)
		}
	}
}

func (s *ChatSession) printWelcome() {
	fmt.Fprintln(s.Out, render(TitleStyle, "rigchat"))
	if s.Chat != nil {
		fmt.Fprintf(s.Out, "%s%s\n", RenderLabel("Chat"), fmt.Sprintf("#%d %s", s.Chat.ID, s.Chat.Title))
		fmt.Fprintf(s.Out, "%s%s\n", RenderLabel("Model"), s.Chat.ModelName)
	} else {
		fmt.Fprintf(s.Out, "%s%s\n", RenderLabel("Chat type"), s.Modality)
		fmt.Fprintf(s.Out, "%s%s\n", RenderLabel("Model"), s.modelName())
	}
	fmt.Fprintln(s.Out, render(DimStyle, "Type /help for commands, Ctrl+D to exit."))
	fmt.Fprintln(s.Out)
}

func (s *ChatSession) modelName() string {
	if s.Model != "" {
		return s.Model
	}
	return model.DefaultModel(s.Modality)
}

// =============================================================================
// PROMPT PROCESSING
// =============================================================================

// Ask sends prompt, follows the answer as it streams and prints the final
// message. Ctrl+C cancels the queued task.
func (s *ChatSession) Ask(parent context.Context, prompt string) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()

	followCtx, stopFollow := context.WithCancel(ctx)
	defer stopFollow()

	var taskID string
	var events <-chan StreamEvent
	if s.Chat == nil {
		created, err := s.Client.CreateChat(ctx, s.UserID, prompt, s.Modality, s.Model)
		if err != nil {
			return err
		}
		s.Chat = created.Chat
		taskID = created.TaskID
		// The first fragments may already be out; the final render below
		// shows the full answer either way.
		events, _ = s.Client.Subscribe(followCtx, notify.ChatMessages(s.Chat.ID), notify.UserNotifications(s.UserID))
	} else {
		var err error
		events, err = s.Client.Subscribe(followCtx, notify.ChatMessages(s.Chat.ID), notify.UserNotifications(s.UserID))
		if err != nil {
			return err
		}
		queued, err := s.Client.SendPrompt(ctx, s.Chat, prompt)
		if err != nil {
			return err
		}
		taskID = queued.TaskID
	}

	followed := make(chan bool, 1)
	go func() {
		followed <- s.follow(followCtx, events)
	}()

	view, err := s.Client.WaitTask(ctx, taskID, taskPollInterval)
	stopFollow()
	streamed := <-followed

	if errors.Is(err, context.Canceled) && parent.Err() == nil {
		cancelCtx, cancel := context.WithTimeout(parent, 5*time.Second)
		defer cancel()
		s.Client.CancelTask(cancelCtx, taskID)
		fmt.Fprintln(s.Out, "\n"+render(WarningStyle, "[Cancelled]"))
		return nil
	}
	if err != nil {
		return err
	}
	if streamed {
		fmt.Fprintln(s.Out)
	}

	switch view.Status {
	case tasks.TaskStatusFailed:
		return errors.New(view.Error)
	case tasks.TaskStatusCanceled:
		fmt.Fprintln(s.Out, render(WarningStyle, "[Cancelled]"))
		return nil
	}
	return s.printAnswer(parent, streamed)
}

// follow prints spinner, message and chunk events until ctx is done and
// reports whether any answer text was printed.
func (s *ChatSession) follow(ctx context.Context, chatEvents <-chan StreamEvent) bool {
	if chatEvents == nil {
		return false
	}
	var chunks <-chan StreamEvent
	streamed := false
	for {
		select {
		case <-ctx.Done():
			return streamed

		case ev, ok := <-chatEvents:
			if !ok {
				chatEvents = nil
				if chunks == nil {
					return streamed
				}
				continue
			}
			switch ev.Kind {
			case notify.KindSpinnerStart:
				if s.Live {
					fmt.Fprint(s.Out, render(DimStyle, "thinking...")+"\r")
				}
			case notify.KindMessageCreated:
				var p notify.MessagePayload
				if json.Unmarshal(ev.Payload, &p) != nil || p.Message == nil {
					continue
				}
				if s.Live && s.Chat.Modality == model.ModalityText {
					fmt.Fprint(s.Out, "\x1b[2K"+p.Message.Answer)
					streamed = streamed || p.Message.Answer != ""
					chunks, _ = s.Client.Subscribe(ctx, notify.MessageChannel(p.Message.ID))
				}
			case notify.KindError:
				var p notify.ErrorPayload
				if json.Unmarshal(ev.Payload, &p) == nil && p.ChatID == s.Chat.ID {
					fmt.Fprintf(os.Stderr, "\n%s %s\n", render(ErrorStyle, "[Error]"), p.Message)
				}
			}

		case ev, ok := <-chunks:
			if !ok {
				chunks = nil
				if chatEvents == nil {
					return streamed
				}
				continue
			}
			var p notify.ChunkPayload
			if json.Unmarshal(ev.Payload, &p) == nil && p.Text != "" {
				fmt.Fprint(s.Out, p.Text)
				streamed = true
			}
		}
	}
}

// printAnswer fetches the chat and prints its latest message.
func (s *ChatSession) printAnswer(ctx context.Context, streamed bool) error {
	detail, err := s.Client.GetChat(ctx, s.Chat.ID)
	if err != nil {
		return err
	}
	if len(detail.Messages) == 0 {
		fmt.Fprintln(s.Out, render(DimStyle, "(no answer)"))
		return nil
	}
	last := detail.Messages[len(detail.Messages)-1]

	if last.ImageURL != "" {
		fmt.Fprintf(s.Out, "%s%s%s\n", RenderLabel("Image"), s.Client.baseURL, last.ImageURL)
		return nil
	}
	if streamed {
		fmt.Fprintln(s.Out, RenderSeparator())
	}
	fmt.Fprint(s.Out, renderMarkdown(last.Message.Answer))
	if !strings.HasSuffix(last.Message.Answer, "\n") {
		fmt.Fprintln(s.Out)
	}
	return nil
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand runs a /command and reports whether the loop should
// continue.
func (s *ChatSession) handleSlashCommand(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	cmd, rest := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "/quit", "/q", "/exit":
		return false, nil

	case "/help", "/h", "/?":
		fmt.Fprint(s.Out, chatHelpText)

	case "/new":
		modality := s.Modality
		if len(rest) > 0 {
			m, err := model.ParseModality(rest[0])
			if err != nil {
				return true, &ValidationError{Field: "chat type", Value: rest[0], Reason: "must be text or image"}
			}
			modality = m
		}
		if modality != s.Modality {
			s.Model = ""
		}
		s.Chat = nil
		s.Modality = modality
		fmt.Fprintf(s.Out, "New %s chat with %s on the next prompt.\n", s.Modality, s.modelName())

	case "/model":
		if len(rest) == 0 {
			if s.Chat != nil {
				fmt.Fprintf(s.Out, "%s%s\n", RenderLabel("Model"), s.Chat.ModelName)
			} else {
				fmt.Fprintf(s.Out, "%s%s\n", RenderLabel("Model"), s.modelName())
			}
			return true, nil
		}
		if !model.IsSupported(s.Modality, rest[0]) {
			return true, &ValidationError{Field: "model", Value: rest[0], Reason: "not supported for " + s.Modality.String() + " chats"}
		}
		s.Model = rest[0]
		s.Chat = nil
		fmt.Fprintf(s.Out, "Model set to %s; the next prompt starts a new chat.\n", s.Model)

	case "/history":
		if s.Chat == nil {
			fmt.Fprintln(s.Out, render(DimStyle, "No chat yet."))
			return true, nil
		}
		detail, err := s.Client.GetChat(ctx, s.Chat.ID)
		if err != nil {
			return true, err
		}
		printHistory(s.Out, detail.Messages)

	case "/exclude", "/include":
		if len(rest) == 0 {
			return true, &ValidationError{Field: "message id", Reason: "is required"}
		}
		id, err := strconv.ParseInt(rest[0], 10, 64)
		if err != nil || id <= 0 {
			return true, &ValidationError{Field: "message id", Value: rest[0], Reason: "must be a positive integer"}
		}
		if err := s.Client.SetExcluded(ctx, id, cmd == "/exclude"); err != nil {
			return true, err
		}
		fmt.Fprintf(s.Out, "Message %d %sd.\n", id, strings.TrimPrefix(cmd, "/"))

	case "/chats":
		chats, err := s.Client.ListChats(ctx, s.UserID)
		if err != nil {
			return true, err
		}
		printChats(s.Out, chats)

	default:
		return true, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
	return true, nil
}

const chatHelpText = `Commands:
  /help, /h           Show this help
  /new [text|image]   Start a new chat on the next prompt
  /model [id]         Show or set the model for new chats
  /history            Show the messages of the current chat
  /exclude <id>       Leave a message out of future context
  /include <id>       Put a message back into context
  /chats              List your chats
  /quit, /q           Exit
`

// printHistory lists messages with their in-context state.
func printHistory(w io.Writer, messages []notify.MessagePayload) {
	if len(messages) == 0 {
		fmt.Fprintln(w, render(DimStyle, "No messages."))
		return
	}
	width := GetTerminalWidth() - 12
	for _, p := range messages {
		m := p.Message
		marker := " "
		if m.Excluded {
			marker = "x"
		}
		fmt.Fprintf(w, "%s %s %s\n", render(DimStyle, fmt.Sprintf("#%-5d", m.ID)), marker, util.TruncateWidth(m.Prompt, width))
		answer := strings.ReplaceAll(m.Answer, "\n", " ")
		if p.ImageURL != "" {
			answer = "[image] " + p.ImageURL
		}
		fmt.Fprintf(w, "         %s\n", render(DimStyle, util.TruncateWidth(answer, width)))
	}
}

// printChats lists chats newest first.
func printChats(w io.Writer, chats []model.Chat) {
	if len(chats) == 0 {
		fmt.Fprintln(w, render(DimStyle, "No chats."))
		return
	}
	width := GetTerminalWidth() - 30
	for _, c := range chats {
		fmt.Fprintf(w, "%s %-6s %-14s %s\n",
			render(DimStyle, fmt.Sprintf("#%-5d", c.ID)),
			c.Modality,
			util.TruncateWidth(c.ModelName, 14),
			util.TruncateWidth(c.Title, width))
	}
}
