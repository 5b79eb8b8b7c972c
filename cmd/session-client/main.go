package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"consultlink-backend/internal/client/controller"
	"consultlink-backend/internal/client/relay"
	"consultlink-backend/internal/client/rtc"
	"consultlink-backend/internal/domain"
	"consultlink-backend/pkg/logger"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "session service base URL")
	token := flag.String("token", "", "JWT access token")
	sessionIDStr := flag.String("session", "", "session ID to join")
	startVideo := flag.Bool("video", false, "activate billing and start media negotiation")
	flag.Parse()

	logger.InitDefault("session-client")
	defer logger.Sync()

	if *token == "" || *sessionIDStr == "" {
		fmt.Fprintln(os.Stderr, "usage: session-client -token <jwt> -session <uuid> [-video]")
		os.Exit(1)
	}
	sessionID, err := uuid.Parse(*sessionIDStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid session ID: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	api := &apiClient{baseURL: *serverURL, token: *token}

	// Activate the session; the response carries the duration budget.
	budget := controller.UnlimitedBudget
	var rate float64
	if *startVideo {
		started, err := api.startVideo(ctx, sessionID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "start-video failed: %v\n", err)
			os.Exit(1)
		}
		budget = started.MaxDurationSeconds
		rate = started.Session.CostPerMinute
		fmt.Printf("session active, budget %s\n", formatBudget(budget))
	}

	// Relay socket
	wsBase := strings.Replace(strings.Replace(*serverURL, "https://", "wss://", 1), "http://", "ws://", 1)
	relayClient := relay.New(relay.DefaultConfig(wsBase, *token, sessionID))

	// Media negotiation (headless: the CLI carries no real media engine)
	coordinator := rtc.NewCoordinator(newHeadlessPeerConnection, relayClient)

	done := make(chan struct{})
	ctrl := controller.New(&controller.Config{
		SessionID:     sessionID,
		CostPerMinute: rate,
		BudgetSeconds: budget,
		Finalizer: controller.FinalizerFunc(func(ctx context.Context, id uuid.UUID, reason controller.EndReason) error {
			if relayClient.State() == relay.StateConnected {
				return relayClient.SendEndSession()
			}
			return api.complete(ctx, id)
		}),
		Teardown: controller.TeardownFunc(func() {
			coordinator.Close()
			relayClient.Close()
		}),
		OnLowBalance: func(remaining int64) {
			fmt.Printf("\n*** low balance: %ds remaining (use /topup <amount>) ***\n", remaining)
		},
		OnEnded: func(reason controller.EndReason) {
			fmt.Printf("\nsession ended: %s\n", reason)
			close(done)
		},
	})

	wireFrames(relayClient, coordinator, ctrl)
	relayClient.OnStateChange(func(oldState, newState relay.State) {
		switch newState {
		case relay.StateReconnecting:
			ctrl.Disconnected(ctx)
		}
	})
	relayClient.OnReconnect(func() {
		ctrl.Reconnected()
		if *startVideo {
			// no media state survives a reconnect; renegotiate from zero
			if err := coordinator.StartCall(); err != nil {
				fmt.Printf("renegotiation failed: %v\n", err)
			}
		}
	})

	if err := relayClient.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "relay connect failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("joined session, type messages (or /end, /topup <amount>)")

	if *startVideo {
		ctrl.Start(ctx)
		if err := coordinator.StartCall(); err != nil {
			fmt.Printf("media negotiation failed: %v\n", err)
		}
	}

	go readInput(ctx, api, sessionID, relayClient, ctrl)
	<-done
}

// wireFrames installs the inbound frame handlers
func wireFrames(relayClient *relay.Client, coordinator *rtc.Coordinator, ctrl *controller.Controller) {
	relayClient.On(domain.FrameTypeChat, func(frame *domain.Frame) {
		fmt.Printf("[%s] %s\n", shortID(frame.UserID), frame.Text)
	})
	presence := func(frame *domain.Frame) {
		fmt.Printf("* %s: %s\n", frame.Type, shortID(frame.UserID))
	}
	relayClient.On(domain.FrameTypeUserJoined, presence)
	relayClient.On(domain.FrameTypeUserLeft, presence)
	relayClient.On(domain.FrameTypeSessionEnded, func(frame *domain.Frame) {
		ctrl.End(context.Background(), controller.ReasonPeerEnded)
	})
	relayClient.On(domain.FrameTypeOffer, func(frame *domain.Frame) {
		if err := coordinator.HandleOffer(frame); err != nil {
			fmt.Printf("offer handling failed: %v\n", err)
		}
	})
	relayClient.On(domain.FrameTypeAnswer, func(frame *domain.Frame) {
		if err := coordinator.HandleAnswer(frame); err != nil {
			fmt.Printf("answer handling failed: %v\n", err)
		}
	})
	relayClient.On(domain.FrameTypeICECandidate, func(frame *domain.Frame) {
		if err := coordinator.HandleRemoteCandidate(frame); err != nil {
			fmt.Printf("candidate handling failed: %v\n", err)
		}
	})
}

func readInput(ctx context.Context, api *apiClient, sessionID uuid.UUID, relayClient *relay.Client, ctrl *controller.Controller) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/end":
			ctrl.End(ctx, controller.ReasonUserAction)
			return
		case strings.HasPrefix(line, "/topup "):
			amount, err := strconv.ParseFloat(strings.TrimPrefix(line, "/topup "), 64)
			if err != nil || amount <= 0 {
				fmt.Println("usage: /topup <amount>")
				continue
			}
			if err := api.topUp(ctx, amount); err != nil {
				fmt.Printf("top-up failed: %v\n", err)
				continue
			}
			budget := ctrl.AddFunds(amount)
			fmt.Printf("credited $%.2f, budget now %s\n", amount, formatBudget(budget))
		default:
			if err := relayClient.SendChat(line); err != nil {
				fmt.Printf("send failed: %v\n", err)
			}
		}
	}
}

func formatBudget(seconds int64) string {
	if seconds == controller.UnlimitedBudget {
		return "unlimited"
	}
	return (time.Duration(seconds) * time.Second).String()
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}

// apiClient is a thin REST client for the session service
type apiClient struct {
	baseURL string
	token   string
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type startVideoData struct {
	Session            *domain.SessionResponse `json:"session"`
	MaxDurationSeconds int64                   `json:"max_duration_seconds"`
}

func (a *apiClient) startVideo(ctx context.Context, sessionID uuid.UUID) (*startVideoData, error) {
	var data startVideoData
	err := a.do(ctx, http.MethodPost, fmt.Sprintf("/v1/sessions/%s/start-video", sessionID), nil, &data)
	if err != nil {
		return nil, err
	}
	return &data, nil
}

func (a *apiClient) complete(ctx context.Context, sessionID uuid.UUID) error {
	return a.do(ctx, http.MethodPost, fmt.Sprintf("/v1/sessions/%s/complete", sessionID), nil, nil)
}

func (a *apiClient) topUp(ctx context.Context, amount float64) error {
	body := map[string]float64{"amount": amount}
	return a.do(ctx, http.MethodPost, "/v1/wallet/top-up", body, nil)
}

func (a *apiClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !env.Success {
		if env.Error != nil {
			return fmt.Errorf("%s: %s", env.Error.Code, env.Error.Message)
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	if out != nil {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

// headlessPeerConnection satisfies the negotiation contract without a
// media engine, so the CLI can exercise signaling end to end.
type headlessPeerConnection struct {
	remote *rtc.SessionDescription
}

func newHeadlessPeerConnection() (rtc.PeerConnection, error) {
	return &headlessPeerConnection{}, nil
}

func (p *headlessPeerConnection) CreateOffer() (*rtc.SessionDescription, error) {
	return &rtc.SessionDescription{Type: "offer", SDP: "v=0\r\ns=consultlink-headless\r\n"}, nil
}

func (p *headlessPeerConnection) CreateAnswer() (*rtc.SessionDescription, error) {
	return &rtc.SessionDescription{Type: "answer", SDP: "v=0\r\ns=consultlink-headless\r\n"}, nil
}

func (p *headlessPeerConnection) SetRemoteDescription(desc *rtc.SessionDescription) error {
	p.remote = desc
	return nil
}

func (p *headlessPeerConnection) AddICECandidate(candidate *rtc.ICECandidate) error {
	return nil
}

func (p *headlessPeerConnection) AddTrack(track rtc.Track) error {
	return nil
}

func (p *headlessPeerConnection) Close() error {
	return nil
}
