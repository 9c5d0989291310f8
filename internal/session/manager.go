package session

import (
	"context"
	"strings"
	"time"

	"github.com/high-cuisine/vetclinic-bot/internal/interpreter"
	"github.com/high-cuisine/vetclinic-bot/internal/observability/metrics"
	"github.com/high-cuisine/vetclinic-bot/internal/scene"
	"github.com/high-cuisine/vetclinic-bot/internal/store"
	"github.com/high-cuisine/vetclinic-bot/pkg/logging"
)

const (
	resetReply   = "Диалог сброшен. Чтобы начать создание записи, отправьте любое сообщение."
	emptyReply   = "Я не смог распознать сообщение. Повторите, пожалуйста."
	unheardReply = "Я вас не расслышал. Повторите, пожалуйста."
	failedReply  = "Я не смог обработать сообщение. Попробуйте позже."
)

var resetCommands = map[string]bool{
	"/exit":   true,
	"/cancel": true,
	"/stop":   true,
	"отмена":  true,
}

// Store is the session persistence surface the manager needs.
type Store interface {
	Get(ctx context.Context, chatID string) (*store.Session, error)
	Save(ctx context.Context, chatID string, sess *store.Session) error
	Clear(ctx context.Context, chatID string) error
	AppendHistory(ctx context.Context, chatID, role, text string) error
	History(ctx context.Context, chatID string) ([]store.HistoryEntry, error)
}

// Router resolves what a message outside any flow asks for.
type Router interface {
	ClassifyFlowIntent(ctx context.Context, message string) (string, error)
	Reply(ctx context.Context, history []string, message string) (string, error)
}

// Notifier delivers moderator notifications.
type Notifier interface {
	NotifyModerators(ctx context.Context, message string) error
}

// Manager routes chat messages: it resets on service commands, dispatches
// into the active flow, starts a flow for recognized intents and falls
// back to free conversation otherwise.
type Manager struct {
	store    Store
	router   Router
	notifier Notifier
	metrics  *metrics.BotMetrics
	runners  map[string]Runner
	logger   *logging.Logger
}

// NewManager wires the session manager.
func NewManager(st Store, router Router, notifier Notifier, m *metrics.BotMetrics, logger *logging.Logger, runners ...Runner) *Manager {
	if logger == nil {
		logger = logging.Default()
	}
	byFlow := make(map[string]Runner, len(runners))
	for _, r := range runners {
		byFlow[r.Flow()] = r
	}
	return &Manager{
		store:    st,
		router:   router,
		notifier: notifier,
		metrics:  m,
		runners:  byFlow,
		logger:   logger,
	}
}

// HandleMessage processes one inbound chat message and returns the
// replies to send back.
func (m *Manager) HandleMessage(ctx context.Context, chatID, message string) ([]string, error) {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return []string{emptyReply}, nil
	}
	if resetCommands[strings.ToLower(msg)] {
		if err := m.store.Clear(ctx, chatID); err != nil {
			return nil, err
		}
		return []string{resetReply}, nil
	}

	sess, err := m.store.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		if runner, ok := m.runners[sess.Flow]; ok {
			return m.dispatch(ctx, chatID, runner, sess.State, msg)
		}
		// A session from a flow this build no longer knows: drop it.
		m.logger.Warn("stale session flow discarded", "chat_id", chatID, "flow", sess.Flow)
		if err := m.store.Clear(ctx, chatID); err != nil {
			return nil, err
		}
	}

	flow := interpreter.DetectQuickIntent(msg)
	if flow == "" && m.router != nil {
		routed, err := m.router.ClassifyFlowIntent(ctx, msg)
		if err != nil {
			m.logger.Warn("flow intent classification failed", "chat_id", chatID, "error", err)
		} else {
			flow = routed
		}
	}
	if runner, ok := m.runners[flow]; ok {
		return m.dispatch(ctx, chatID, runner, nil, "")
	}
	return m.smallTalk(ctx, chatID, msg)
}

func (m *Manager) dispatch(ctx context.Context, chatID string, runner Runner, state []byte, msg string) ([]string, error) {
	start := time.Now()
	newState, outcome, err := runner.Run(ctx, state, msg)
	m.metrics.ObserveTurnLatency(runner.Flow(), time.Since(start).Seconds())
	if err != nil {
		m.metrics.ObserveTurn(runner.Flow(), "error")
		return nil, err
	}
	m.metrics.ObserveTurn(runner.Flow(), turnOutcome(outcome))

	if outcome.NotifyModerator != "" && m.notifier != nil {
		if err := m.notifier.NotifyModerators(ctx, outcome.NotifyModerator); err != nil {
			m.logger.Error("moderator notification failed", "chat_id", chatID, "error", err)
		}
	}

	if outcome.Completed || outcome.ExitScene {
		if err := m.store.Clear(ctx, chatID); err != nil {
			return nil, err
		}
	} else {
		if err := m.store.Save(ctx, chatID, &store.Session{Flow: runner.Flow(), State: newState}); err != nil {
			return nil, err
		}
	}

	if len(outcome.Responses) == 0 {
		return []string{unheardReply}, nil
	}
	return outcome.Responses, nil
}

func turnOutcome(o scene.Outcome) string {
	switch {
	case o.Completed:
		return "completed"
	case o.ExitScene:
		return "exited"
	default:
		return "in_progress"
	}
}

func (m *Manager) smallTalk(ctx context.Context, chatID, msg string) ([]string, error) {
	if err := m.store.AppendHistory(ctx, chatID, "user", msg); err != nil {
		m.logger.Warn("history append failed", "chat_id", chatID, "error", err)
	}
	if m.router == nil {
		return []string{failedReply}, nil
	}

	entries, err := m.store.History(ctx, chatID)
	if err != nil {
		m.logger.Warn("history load failed", "chat_id", chatID, "error", err)
	}
	history := make([]string, 0, len(entries))
	for _, e := range entries {
		history = append(history, e.Role+": "+e.Text)
	}

	reply, err := m.router.Reply(ctx, history, msg)
	if err != nil {
		m.logger.Error("conversational reply failed", "chat_id", chatID, "error", err)
		return []string{failedReply}, nil
	}
	if err := m.store.AppendHistory(ctx, chatID, "assistant", reply); err != nil {
		m.logger.Warn("history append failed", "chat_id", chatID, "error", err)
	}
	return []string{reply}, nil
}
