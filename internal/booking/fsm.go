// Package booking runs the two-step reservation dialog and submits its results.
package booking

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"yoyaku/internal/draft"
)

// State represents the current step of the reservation dialog.
type State string

const (
	StateIdle        State = "idle"
	StateAskName     State = "ask_name"
	StateAskFurigana State = "ask_furigana"
	StateAskEmail    State = "ask_email"
	StateAskTel      State = "ask_tel"
	StateReview      State = "review"
	StateSlotPicker  State = "slot_picker"
	StateComplete    State = "complete"
	StateCanceled    State = "canceled"
)

// Session is one user's dialog.
type Session struct {
	UserID    int64
	State     State
	Draft     draft.Draft
	StartedAt time.Time
	UpdatedAt time.Time
	mu        sync.Mutex
}

// NewSession creates a session at the first question.
func NewSession(userID int64) *Session {
	now := time.Now()
	return &Session{
		UserID:    userID,
		State:     StateIdle,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// SetState updates the session state.
func (s *Session) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = state
	s.UpdatedAt = time.Now()
}

// GetState returns current state.
func (s *Session) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State
}

// IsExpired checks if session has expired.
func (s *Session) IsExpired(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.UpdatedAt) > timeout
}

// SessionStore manages dialog sessions.
type SessionStore struct {
	sessions map[int64]*Session
	mu       sync.RWMutex
	timeout  time.Duration
}

// NewSessionStore creates a new session store.
func NewSessionStore(timeout time.Duration) *SessionStore {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &SessionStore{
		sessions: make(map[int64]*Session),
		timeout:  timeout,
	}
}

// Get returns a session for user.
func (ss *SessionStore) Get(userID int64) *Session {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.sessions[userID]
}

// GetOrCreate returns the live session or starts a new one.
func (ss *SessionStore) GetOrCreate(userID int64) *Session {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	session, ok := ss.sessions[userID]
	if ok && !session.IsExpired(ss.timeout) {
		return session
	}

	session = NewSession(userID)
	ss.sessions[userID] = session
	return session
}

// Reset replaces the user's session with a fresh one.
func (ss *SessionStore) Reset(userID int64) *Session {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	session := NewSession(userID)
	ss.sessions[userID] = session
	return session
}

// Delete removes a session.
func (ss *SessionStore) Delete(userID int64) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	delete(ss.sessions, userID)
}

// Cleanup removes expired sessions.
func (ss *SessionStore) Cleanup() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	removed := 0
	for userID, session := range ss.sessions {
		if session.IsExpired(ss.timeout) {
			delete(ss.sessions, userID)
			removed++
		}
	}
	return removed
}

// FSM manages state transitions for the dialog.
type FSM struct {
	transitions map[State][]State
}

// NewFSM creates a new FSM with predefined transitions.
func NewFSM() *FSM {
	return &FSM{
		transitions: map[State][]State{
			StateIdle:        {StateAskName, StateSlotPicker},
			StateAskName:     {StateAskFurigana, StateCanceled},
			StateAskFurigana: {StateAskEmail, StateAskName, StateCanceled},
			StateAskEmail:    {StateAskTel, StateAskFurigana, StateCanceled},
			StateAskTel:      {StateReview, StateAskEmail, StateCanceled},
			StateReview:      {StateSlotPicker, StateAskTel, StateAskName, StateCanceled},
			StateSlotPicker:  {StateComplete, StateAskName, StateCanceled},
			StateComplete:    {StateIdle},
			StateCanceled:    {StateIdle},
		},
	}
}

// CanTransition checks if transition is allowed.
func (f *FSM) CanTransition(from, to State) bool {
	for _, s := range f.transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition updates the session state if the transition is allowed.
func (f *FSM) Transition(session *Session, to State) bool {
	if f.CanTransition(session.GetState(), to) {
		session.SetState(to)
		return true
	}
	return false
}

// StatePrompts are sent on entering a state.
var StatePrompts = map[State]string{
	StateAskName:     "お名前を入力してください。",
	StateAskFurigana: "フリガナを入力してください。",
	StateAskEmail:    "メールアドレスを入力してください。",
	StateAskTel:      "電話番号を入力してください。",
	StateReview:      "入力内容をご確認ください。",
	StateSlotPicker:  "ご希望の日時を選択してください。",
	StateComplete:    MsgConfirmed,
	StateCanceled:    "予約手続きを中止しました。",
}

const (
	msgBadEmail = "メールアドレスの形式が正しくありません。"
	msgBadTel   = "電話番号の形式が正しくありません。例: 090-1234-5678"
	msgNoBack   = "これ以上戻れません。"
)

// TransitionResult is the outcome of one line of user input.
type TransitionResult struct {
	NewState State
	Message  string
	Error    error
}

// Handler turns text input into dialog transitions.
type Handler struct {
	fsm *FSM
}

func NewHandler() *Handler {
	return &Handler{fsm: NewFSM()}
}

// FSM exposes the transition table for callers that move the session directly.
func (h *Handler) FSM() *FSM {
	return h.fsm
}

// Start moves a fresh session to the first question.
func (h *Handler) Start(session *Session) TransitionResult {
	session.SetState(StateIdle)
	h.fsm.Transition(session, StateAskName)
	return TransitionResult{NewState: StateAskName, Message: StatePrompts[StateAskName]}
}

// HandleInput processes one text message for the step-one questions.
func (h *Handler) HandleInput(session *Session, input string) TransitionResult {
	input = strings.TrimSpace(input)
	state := session.GetState()

	switch strings.ToLower(input) {
	case "/cancel", "キャンセル":
		h.fsm.Transition(session, StateCanceled)
		return TransitionResult{NewState: session.GetState(), Message: StatePrompts[StateCanceled]}
	case "/back", "戻る":
		return h.back(session)
	}

	if input == "" {
		return h.reject(state, MsgIncomplete)
	}

	session.mu.Lock()
	switch state {
	case StateAskName:
		session.Draft.Name = input
	case StateAskFurigana:
		session.Draft.Furigana = input
	case StateAskEmail:
		email, ok := draft.NormalizeEmail(input)
		if !ok {
			session.mu.Unlock()
			return h.reject(state, msgBadEmail)
		}
		session.Draft.Email = email
	case StateAskTel:
		tel, ok := draft.NormalizeTel(input)
		if !ok {
			session.mu.Unlock()
			return h.reject(state, msgBadTel)
		}
		session.Draft.Tel = tel
	default:
		session.mu.Unlock()
		return TransitionResult{NewState: state}
	}
	session.mu.Unlock()

	next := nextState[state]
	h.fsm.Transition(session, next)
	res := TransitionResult{NewState: next, Message: StatePrompts[next]}
	if next == StateReview {
		res.Message = FormatReview(session.Draft)
	}
	return res
}

var nextState = map[State]State{
	StateAskName:     StateAskFurigana,
	StateAskFurigana: StateAskEmail,
	StateAskEmail:    StateAskTel,
	StateAskTel:      StateReview,
}

var prevState = map[State]State{
	StateAskFurigana: StateAskName,
	StateAskEmail:    StateAskFurigana,
	StateAskTel:      StateAskEmail,
	StateReview:      StateAskTel,
}

func (h *Handler) back(session *Session) TransitionResult {
	state := session.GetState()
	prev, ok := prevState[state]
	if !ok || !h.fsm.Transition(session, prev) {
		return TransitionResult{NewState: state, Message: msgNoBack}
	}
	return TransitionResult{NewState: prev, Message: StatePrompts[prev]}
}

func (h *Handler) reject(state State, msg string) TransitionResult {
	return TransitionResult{
		NewState: state,
		Message:  msg + "\n" + StatePrompts[state],
		Error:    &ValidationError{Field: string(state), Message: msg},
	}
}

// FormatReview renders the entered details for confirmation.
func FormatReview(d draft.Draft) string {
	return fmt.Sprintf(`%s

お名前: %s
フリガナ: %s
メール: %s
電話番号: %s`,
		StatePrompts[StateReview],
		d.Name,
		d.Furigana,
		d.Email,
		d.Tel,
	)
}
