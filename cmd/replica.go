package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	gorilla "github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	httpadapter "github.com/satriahrh/gemini-chat/adapters/http"
	"github.com/satriahrh/gemini-chat/adapters/websocket"
	"github.com/satriahrh/gemini-chat/domain"
)

var replicaOpts struct {
	server    string
	apiKey    string
	apiSecret string
	model     string
}

var replicaCmd = &cobra.Command{
	Use:   "replica",
	Short: "Chat with a running server from the terminal",
	Long: `replica opens a session on a running gemini-chat server and renders the
transcript as it changes.

Commands:
  /reset          start the conversation over
  /model <name>   use another model for the following messages
  /ask <text>     send text as if typed in the sidebar
  /voice <file>   send a LINEAR16 WAV recording (voice must be enabled)
  /exit           quit`,
	RunE: runReplica,
}

func init() {
	replicaCmd.Flags().StringVar(&replicaOpts.server, "server", "http://localhost:8080", "base URL of the chat server")
	replicaCmd.Flags().StringVar(&replicaOpts.apiKey, "api-key", os.Getenv("API_KEY"), "client key sent when creating the session")
	replicaCmd.Flags().StringVar(&replicaOpts.apiSecret, "api-secret", os.Getenv("API_SECRET"), "client secret sent when creating the session")
	replicaCmd.Flags().StringVar(&replicaOpts.model, "model", "", "model to request; empty uses the server default")
	rootCmd.AddCommand(replicaCmd)
}

var (
	userBubble = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("12")).
			Padding(0, 1).
			MarginLeft(8)
	assistantBubble = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("10")).
			Padding(0, 1)
	roleLabel  = lipgloss.NewStyle().Bold(true).Faint(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func renderTurn(t domain.Turn) string {
	if t.Role == domain.UserRole {
		return userBubble.Render(roleLabel.Render("you") + "\n" + t.Content)
	}
	return assistantBubble.Render(roleLabel.Render("gemini") + "\n" + t.Content)
}

// transcriptView prints only the turns the terminal has not shown yet.
type transcriptView struct {
	mu   sync.Mutex
	out  io.Writer
	seen int
}

func (v *transcriptView) apply(frame websocket.OutboundFrame) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if frame.Type == websocket.FrameError {
		if frame.Error != nil {
			fmt.Fprintln(v.out, errorStyle.Render(frame.Error.Code+": "+frame.Error.Message))
		}
		return
	}

	if frame.Reason == domain.ReasonReset || len(frame.Turns) < v.seen {
		fmt.Fprintln(v.out, roleLabel.Render("── new conversation ──"))
		v.seen = 0
	}
	for _, t := range frame.Turns[v.seen:] {
		fmt.Fprintln(v.out, renderTurn(t))
	}
	v.seen = len(frame.Turns)
}

func createReplicaSession(ctx context.Context, client *http.Client, server, key, secret string) (httpadapter.SessionResponse, error) {
	var session httpadapter.SessionResponse

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(server, "/")+"/api/v1/sessions", nil)
	if err != nil {
		return session, err
	}
	if key != "" {
		req.Header.Set("X-API-Key", key)
		req.Header.Set("X-API-Secret", secret)
	}

	resp, err := client.Do(req)
	if err != nil {
		return session, fmt.Errorf("creating session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return session, fmt.Errorf("creating session: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return session, fmt.Errorf("decoding session: %w", err)
	}
	return session, nil
}

// sendVoiceFile posts a recorded utterance. The resulting transcript arrives
// over the websocket like any other reply.
func sendVoiceFile(ctx context.Context, client *http.Client, server, token, path, model string) error {
	audio, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	endpoint := strings.TrimSuffix(server, "/") + "/api/v1/session/voice"
	if model != "" {
		endpoint += "?model=" + url.QueryEscape(model)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(audio))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sending voice: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("sending voice: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

func websocketURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

// parseInput turns one stdin line into the frame to send. ok is false for
// lines that send nothing.
func parseInput(line, model string) (frame websocket.InboundFrame, nextModel string, ok bool) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return frame, model, false
	case line == "/reset":
		return websocket.InboundFrame{Type: websocket.FrameReset}, model, true
	case strings.HasPrefix(line, "/model "):
		return frame, strings.TrimSpace(strings.TrimPrefix(line, "/model ")), false
	case strings.HasPrefix(line, "/ask "):
		return websocket.InboundFrame{
			Type:   websocket.FrameMessage,
			Text:   strings.TrimPrefix(line, "/ask "),
			Model:  model,
			Source: "sidebar",
		}, model, true
	}
	return websocket.InboundFrame{
		Type:   websocket.FrameMessage,
		Text:   line,
		Model:  model,
		Source: "chat",
	}, model, true
}

func runReplica(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{Timeout: 10 * time.Second}
	session, err := createReplicaSession(ctx, httpClient, replicaOpts.server, replicaOpts.apiKey, replicaOpts.apiSecret)
	if err != nil {
		return err
	}

	wsURL, err := websocketURL(replicaOpts.server)
	if err != nil {
		return err
	}
	conn, _, err := gorilla.DefaultDialer.DialContext(ctx, wsURL, http.Header{
		"Authorization": []string{"Bearer " + session.Token},
	})
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", wsURL, err)
	}
	defer conn.Close()

	out := cmd.OutOrStdout()
	view := &transcriptView{out: out}

	go func() {
		defer stop()
		for {
			var frame websocket.OutboundFrame
			if err := conn.ReadJSON(&frame); err != nil {
				if ctx.Err() == nil {
					fmt.Fprintln(out, errorStyle.Render("connection closed: "+err.Error()))
				}
				return
			}
			view.apply(frame)
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	model := replicaOpts.model
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, open := <-lines:
			if !open || strings.TrimSpace(line) == "/exit" {
				conn.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, ""))
				return nil
			}
			if path, isVoice := strings.CutPrefix(strings.TrimSpace(line), "/voice "); isVoice {
				voiceClient := &http.Client{Timeout: 60 * time.Second}
				if err := sendVoiceFile(ctx, voiceClient, replicaOpts.server, session.Token, strings.TrimSpace(path), model); err != nil {
					fmt.Fprintln(out, errorStyle.Render(err.Error()))
				}
				continue
			}
			frame, next, ok := parseInput(line, model)
			if next != model {
				model = next
				fmt.Fprintln(out, roleLabel.Render("model: "+model))
			}
			if !ok {
				continue
			}
			if err := conn.WriteJSON(frame); err != nil {
				return fmt.Errorf("sending: %w", err)
			}
		}
	}
}
