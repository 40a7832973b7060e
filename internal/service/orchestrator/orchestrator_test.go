package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weibaohui/voicechef/backend/internal/domain"
	"github.com/weibaohui/voicechef/backend/internal/eventbus"
	"github.com/weibaohui/voicechef/backend/internal/pkg/llm"
	"github.com/weibaohui/voicechef/backend/internal/service/assistant"
	"github.com/weibaohui/voicechef/backend/internal/service/permission"
	"github.com/weibaohui/voicechef/backend/internal/service/speech"
	"github.com/weibaohui/voicechef/backend/internal/service/statemachine"
)

const waitTimeout = 2 * time.Second

type dispatchCall struct {
	identity domain.AssistantIdentity
	history  []domain.Message
	latest   string
}

type fakeRouter struct {
	mutex   sync.Mutex
	calls   []dispatchCall
	reply   *assistant.Reply
	err     error
	release chan struct{}
}

func (r *fakeRouter) Dispatch(ctx context.Context, identity domain.AssistantIdentity, history []domain.Message, latest string) (*assistant.Reply, error) {
	r.mutex.Lock()
	r.calls = append(r.calls, dispatchCall{identity: identity, history: history, latest: latest})
	release := r.release
	reply, err := r.reply, r.err
	r.mutex.Unlock()

	if release != nil {
		<-release
	}
	return reply, err
}

func (r *fakeRouter) callCount() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.calls)
}

func (r *fakeRouter) lastCall() dispatchCall {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.calls[len(r.calls)-1]
}

type recorder struct {
	mutex  sync.Mutex
	events []eventbus.SessionEvent
}

func (r *recorder) handle(ctx context.Context, event eventbus.SessionEvent) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) ofType(eventType eventbus.SessionEventType) []eventbus.SessionEvent {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	var out []eventbus.SessionEvent
	for _, event := range r.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

func (r *recorder) notices() []domain.Notice {
	var out []domain.Notice
	for _, event := range r.ofType(eventbus.SessionEventNotice) {
		out = append(out, *event.Notice)
	}
	return out
}

func (r *recorder) outcomes() []domain.TurnOutcome {
	var out []domain.TurnOutcome
	for _, event := range r.ofType(eventbus.SessionEventTurnFinished) {
		out = append(out, *event.Outcome)
	}
	return out
}

func (r *recorder) states() []statemachine.SessionState {
	var out []statemachine.SessionState
	for _, event := range r.ofType(eventbus.SessionEventSnapshot) {
		out = append(out, event.Snapshot.State)
	}
	return out
}

type harness struct {
	o        *Orchestrator
	router   *fakeRouter
	capture  *speech.BridgeCaptureEngine
	playback *speech.BridgePlaybackEngine
	output   *speech.OutputController
	events   *recorder
}

func newHarness(t *testing.T, prober permission.Prober, router *fakeRouter) *harness {
	t.Helper()
	return newHarnessWithOutput(t, prober, router, speech.OutputOptions{Language: "en-US"})
}

func newHarnessWithOutput(t *testing.T, prober permission.Prober, router *fakeRouter, outputOptions speech.OutputOptions) *harness {
	t.Helper()
	bus := eventbus.NewSessionEventBus()
	events := &recorder{}
	bus.SubscribeAll(events.handle)

	gate := permission.NewGate(prober)
	capture := speech.NewBridgeCaptureEngine(bus)
	playback := speech.NewBridgePlaybackEngine(bus)
	input := speech.NewInputController(capture, gate, speech.InputOptions{
		Language:        "en-US",
		FinalizeTimeout: 100 * time.Millisecond,
	})
	output := speech.NewOutputController(playback, outputOptions)
	input.SetBusyProbe(output.Speaking)
	output.SetCapturePreempt(input.AbortCapture)

	o, err := New(Dependencies{
		Permission: gate,
		Input:      input,
		Output:     output,
		Router:     router,
		Publisher:  bus,
	}, Options{DefaultAssistant: domain.AssistantCoach, DispatchTimeout: time.Second})
	require.NoError(t, err)
	o.Start()
	t.Cleanup(o.Shutdown)

	return &harness{o: o, router: router, capture: capture, playback: playback, output: output, events: events}
}

func granted() permission.Prober {
	return permission.StaticProber{Granted: true, Supported: true}
}

func (h *harness) waitState(t *testing.T, state statemachine.SessionState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.o.Snapshot().State == state
	}, waitTimeout, 5*time.Millisecond, "state never became %s, last=%s", state, h.o.Snapshot().State)
}

// speakTurn 完成一轮识别，停在 Speaking
func (h *harness) speakTurn(t *testing.T, utterance string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.o.StartListening(ctx))
	require.NoError(t, h.capture.Final("", utterance))
	h.waitState(t, statemachine.SessionStateSpeaking)
}

func TestCoachTurnCompletes(t *testing.T) {
	router := &fakeRouter{reply: &assistant.Reply{ResponseText: "Try adding eggs to breakfast."}}
	h := newHarness(t, granted(), router)
	ctx := context.Background()

	require.NoError(t, h.o.StartListening(ctx))
	assert.Equal(t, statemachine.SessionStateListening, h.o.Snapshot().State)
	assert.Equal(t, domain.PermissionGranted, h.o.Snapshot().MicPermission)

	require.NoError(t, h.capture.Partial("", "I want more"))
	require.Eventually(t, func() bool {
		return h.o.Snapshot().LiveDraft == "I want more"
	}, waitTimeout, 5*time.Millisecond)

	require.NoError(t, h.capture.Final("", "I want more protein"))
	h.waitState(t, statemachine.SessionStateSpeaking)

	call := h.router.lastCall()
	assert.Equal(t, domain.AssistantCoach, call.identity)
	assert.Equal(t, "I want more protein", call.latest)
	require.Len(t, call.history, 1)
	assert.Equal(t, domain.RoleAssistant, call.history[0].Role)

	require.NoError(t, h.playback.Started(""))
	require.NoError(t, h.playback.Ended(""))
	h.waitState(t, statemachine.SessionStateIdle)

	snapshot := h.o.Snapshot()
	require.Len(t, snapshot.Transcript, 3)
	assert.Equal(t, domain.RoleUser, snapshot.Transcript[1].Role)
	assert.Equal(t, "I want more protein", snapshot.Transcript[1].Content)
	assert.Equal(t, domain.RoleAssistant, snapshot.Transcript[2].Role)
	assert.Equal(t, "Try adding eggs to breakfast.", snapshot.Transcript[2].Content)
	assert.Empty(t, snapshot.LiveDraft)

	require.Eventually(t, func() bool { return len(h.events.outcomes()) == 1 }, waitTimeout, 5*time.Millisecond)
	outcome := h.events.outcomes()[0]
	assert.Equal(t, domain.TurnCompleted, outcome.Outcome)
	assert.Equal(t, uint64(1), outcome.Turn)
	assert.Equal(t, len("I want more protein"), outcome.UtteranceChars)
	assert.Empty(t, h.events.notices())
}

func TestChefRecipeOnlyReplyIsAnnounced(t *testing.T) {
	recipe := &domain.Suggestion{RecipeName: "Tomato Pasta", Ingredients: "pasta, tomato", Instructions: "Boil. Mix."}
	router := &fakeRouter{reply: &assistant.Reply{Suggestion: recipe}}
	h := newHarness(t, granted(), router)
	ctx := context.Background()

	require.NoError(t, h.o.SwitchAssistant(ctx, domain.AssistantChef))
	h.speakTurn(t, "I have pasta and tomatoes")
	assert.Equal(t, domain.AssistantChef, h.router.lastCall().identity)

	snapshot := h.o.Snapshot()
	require.Len(t, snapshot.Transcript, 3)
	reply := snapshot.Transcript[2]
	assert.Equal(t, "Okay, I found a recipe for you: Tomato Pasta. Check the recipe details!", reply.Content)
	require.NotNil(t, reply.Attachment)
	assert.Equal(t, "Tomato Pasta", reply.Attachment.RecipeName)

	reply.Attachment.RecipeName = "changed"
	assert.Equal(t, "Tomato Pasta", h.o.Snapshot().Transcript[2].Attachment.RecipeName)

	require.NoError(t, h.playback.Ended(""))
	h.waitState(t, statemachine.SessionStateIdle)
	require.Eventually(t, func() bool { return len(h.events.outcomes()) == 1 }, waitTimeout, 5*time.Millisecond)
	assert.True(t, h.events.outcomes()[0].HasSuggestion)
}

func TestChefReplyWithRecipeKeepsTextAndAttachment(t *testing.T) {
	recipe := &domain.Suggestion{
		RecipeName:   "Chicken Rice Stir-Fry",
		Ingredients:  "chicken, rice, soy sauce",
		Instructions: "Cook rice. Stir-fry chicken. Combine.",
	}
	router := &fakeRouter{reply: &assistant.Reply{ResponseText: "Here's a stir-fry!", Suggestion: recipe}}
	h := newHarness(t, granted(), router)

	require.NoError(t, h.o.SwitchAssistant(context.Background(), domain.AssistantChef))
	h.speakTurn(t, "recipe with chicken and rice")

	snapshot := h.o.Snapshot()
	require.Len(t, snapshot.Transcript, 3)
	reply := snapshot.Transcript[2]
	assert.Equal(t, domain.RoleAssistant, reply.Role)
	assert.Equal(t, "Here's a stir-fry!", reply.Content)
	require.NotNil(t, reply.Attachment)
	assert.Equal(t, *recipe, *reply.Attachment)

	appended := h.events.ofType(eventbus.SessionEventMessageAppended)
	require.Len(t, appended, 2)
	assert.Equal(t, "recipe with chicken and rice", appended[0].Message.Content)
	assert.Nil(t, appended[0].Message.Attachment)
	assert.Equal(t, "Here's a stir-fry!", appended[1].Message.Content)
	require.NotNil(t, appended[1].Message.Attachment)
	assert.Equal(t, *recipe, *appended[1].Message.Attachment)

	speak := h.events.ofType(eventbus.SessionEventPlaybackRequested)
	require.Len(t, speak, 1)
	assert.Equal(t, "Here's a stir-fry!", speak[0].Text)

	require.NoError(t, h.playback.Ended(""))
	h.waitState(t, statemachine.SessionStateIdle)
	assert.Len(t, h.o.Snapshot().Transcript, 3)
}

func TestBackendAuthFailureAppendsApology(t *testing.T) {
	router := &fakeRouter{err: &llm.APIError{StatusCode: 401, Message: "invalid key"}}
	h := newHarness(t, granted(), router)
	ctx := context.Background()

	require.NoError(t, h.o.StartListening(ctx))
	require.NoError(t, h.capture.Final("", "hello"))
	require.Eventually(t, func() bool { return len(h.events.outcomes()) == 1 }, waitTimeout, 5*time.Millisecond)
	h.waitState(t, statemachine.SessionStateIdle)

	snapshot := h.o.Snapshot()
	require.Len(t, snapshot.Transcript, 3)
	assert.Equal(t, apologyPrefix+authFailureDetail, snapshot.Transcript[2].Content)

	notices := h.events.notices()
	require.Len(t, notices, 1)
	assert.Equal(t, domain.NoticeBackendAuth, notices[0].Kind)
	assert.Equal(t, "API Key Error", notices[0].Title)
	assert.Equal(t, domain.TurnBackendAuthFailed, h.events.outcomes()[0].Outcome)
	assert.Equal(t, "auth", h.events.outcomes()[0].ErrorKind)
	assert.Empty(t, h.playback.Current())
}

func TestBackendGenericFailure(t *testing.T) {
	router := &fakeRouter{err: errors.New("boom")}
	h := newHarness(t, granted(), router)

	require.NoError(t, h.o.StartListening(context.Background()))
	require.NoError(t, h.capture.Final("", "hello"))
	require.Eventually(t, func() bool { return len(h.events.outcomes()) == 1 }, waitTimeout, 5*time.Millisecond)
	h.waitState(t, statemachine.SessionStateIdle)

	snapshot := h.o.Snapshot()
	assert.Equal(t, "Sorry, I encountered an error. Sorry, I couldn't get a response: boom", snapshot.Transcript[2].Content)
	assert.Equal(t, domain.TurnBackendFailed, h.events.outcomes()[0].Outcome)
}

func TestEmptyTranscriptReturnsToIdle(t *testing.T) {
	router := &fakeRouter{reply: &assistant.Reply{ResponseText: "unused"}}
	h := newHarness(t, granted(), router)

	require.NoError(t, h.o.StartListening(context.Background()))
	require.NoError(t, h.capture.Final("", "   "))
	require.Eventually(t, func() bool { return len(h.events.outcomes()) == 1 }, waitTimeout, 5*time.Millisecond)
	h.waitState(t, statemachine.SessionStateIdle)

	assert.Equal(t, 0, h.router.callCount())
	assert.Len(t, h.o.Snapshot().Transcript, 1)
	assert.Equal(t, domain.TurnEmpty, h.events.outcomes()[0].Outcome)
	assert.Empty(t, h.events.notices())
}

func TestPermissionDeniedStaysIdle(t *testing.T) {
	h := newHarness(t, permission.StaticProber{Granted: false, Supported: true}, &fakeRouter{})

	err := h.o.StartListening(context.Background())
	require.ErrorIs(t, err, permission.ErrPermissionDenied)

	snapshot := h.o.Snapshot()
	assert.Equal(t, statemachine.SessionStateIdle, snapshot.State)
	assert.Equal(t, domain.PermissionDenied, snapshot.MicPermission)
	notices := h.events.notices()
	require.Len(t, notices, 1)
	assert.Equal(t, domain.NoticePermission, notices[0].Kind)
	assert.Equal(t, "Microphone Required", notices[0].Title)
	assert.Empty(t, h.events.ofType(eventbus.SessionEventCaptureRequested))
	assert.Empty(t, h.events.outcomes())
}

func TestUnsupportedPlatformNotice(t *testing.T) {
	h := newHarness(t, permission.StaticProber{Supported: false}, &fakeRouter{})

	err := h.o.StartListening(context.Background())
	require.ErrorIs(t, err, permission.ErrPermissionDenied)
	notices := h.events.notices()
	require.Len(t, notices, 1)
	assert.Equal(t, domain.NoticeUnsupported, notices[0].Kind)
}

func TestCaptureNetworkErrorNotifies(t *testing.T) {
	h := newHarness(t, granted(), &fakeRouter{})

	require.NoError(t, h.o.StartListening(context.Background()))
	require.NoError(t, h.capture.Fail("", speech.CaptureErrNetwork))
	require.Eventually(t, func() bool { return len(h.events.outcomes()) == 1 }, waitTimeout, 5*time.Millisecond)
	h.waitState(t, statemachine.SessionStateIdle)

	notices := h.events.notices()
	require.Len(t, notices, 1)
	assert.Equal(t, "Network error during speech recognition.", notices[0].Description)
	assert.Equal(t, domain.TurnCaptureFailed, h.events.outcomes()[0].Outcome)
}

func TestSwitchAssistantOnlyWhenIdle(t *testing.T) {
	h := newHarness(t, granted(), &fakeRouter{})
	ctx := context.Background()

	require.NoError(t, h.o.StartListening(ctx))
	err := h.o.SwitchAssistant(ctx, domain.AssistantChef)
	require.ErrorIs(t, err, ErrNotIdle)
	assert.Equal(t, domain.AssistantCoach, h.o.Snapshot().Assistant)
	notices := h.events.notices()
	require.Len(t, notices, 1)
	assert.Equal(t, "Cannot switch assistants while active.", notices[0].Description)

	require.NoError(t, h.capture.End(""))
	h.waitState(t, statemachine.SessionStateIdle)

	require.NoError(t, h.o.SwitchAssistant(ctx, domain.AssistantChef))
	snapshot := h.o.Snapshot()
	assert.Equal(t, domain.AssistantChef, snapshot.Assistant)
	require.Len(t, snapshot.Transcript, 1)
	assert.Equal(t, domain.AssistantChef.Greeting(), snapshot.Transcript[0].Content)

	err = h.o.SwitchAssistant(ctx, domain.AssistantIdentity("pirate"))
	require.ErrorIs(t, err, domain.ErrUnknownAssistant)
}

func TestStopListeningFinalizesWithoutEngine(t *testing.T) {
	router := &fakeRouter{reply: &assistant.Reply{ResponseText: "ok"}}
	h := newHarness(t, granted(), router)
	ctx := context.Background()

	require.NoError(t, h.o.StartListening(ctx))
	require.NoError(t, h.capture.Partial("", "hello there"))
	require.Eventually(t, func() bool {
		return h.o.Snapshot().LiveDraft == "hello there"
	}, waitTimeout, 5*time.Millisecond)

	require.NoError(t, h.o.StopListening(ctx))
	assert.Len(t, h.events.ofType(eventbus.SessionEventCaptureStopped), 1)

	h.waitState(t, statemachine.SessionStateSpeaking)
	assert.Equal(t, "hello there", h.router.lastCall().latest)
}

func TestStopListeningIgnoredWhenIdle(t *testing.T) {
	h := newHarness(t, granted(), &fakeRouter{})
	require.NoError(t, h.o.StopListening(context.Background()))
	require.NoError(t, h.o.StopSpeaking(context.Background()))
	assert.Equal(t, statemachine.SessionStateIdle, h.o.Snapshot().State)
}

func TestStartListeningWhileSpeakingIsRejected(t *testing.T) {
	router := &fakeRouter{reply: &assistant.Reply{ResponseText: "long answer"}}
	h := newHarness(t, granted(), router)

	h.speakTurn(t, "tell me something")
	err := h.o.StartListening(context.Background())
	require.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, statemachine.SessionStateSpeaking, h.o.Snapshot().State)

	notices := h.events.notices()
	require.Len(t, notices, 1)
	assert.Equal(t, "Assistant is currently speaking.", notices[0].Description)
}

func TestStopSpeakingInterruptsImmediately(t *testing.T) {
	router := &fakeRouter{reply: &assistant.Reply{ResponseText: "long answer"}}
	h := newHarness(t, granted(), router)
	ctx := context.Background()

	h.speakTurn(t, "tell me something")
	require.NoError(t, h.playback.Started(""))

	require.NoError(t, h.o.StopSpeaking(ctx))
	assert.Equal(t, statemachine.SessionStateIdle, h.o.Snapshot().State)
	assert.False(t, h.output.Speaking())
	assert.Len(t, h.events.ofType(eventbus.SessionEventPlaybackCancelled), 1)

	outcomes := h.events.outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.TurnInterrupted, outcomes[0].Outcome)

	require.NoError(t, h.o.StartListening(ctx))
	assert.Equal(t, statemachine.SessionStateListening, h.o.Snapshot().State)
}

func TestPlaybackFailureNotifies(t *testing.T) {
	router := &fakeRouter{reply: &assistant.Reply{ResponseText: "answer"}}
	h := newHarness(t, granted(), router)

	h.speakTurn(t, "question")
	require.NoError(t, h.playback.Failed("", errors.New("synthesis failed")))
	h.waitState(t, statemachine.SessionStateIdle)

	require.Eventually(t, func() bool { return len(h.events.outcomes()) == 1 }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, domain.TurnPlaybackFailed, h.events.outcomes()[0].Outcome)
	notices := h.events.notices()
	require.Len(t, notices, 1)
	assert.Equal(t, "Speech Error", notices[0].Title)
	assert.Len(t, h.o.Snapshot().Transcript, 3)
}

func TestPlaybackNeverReportedReturnsToIdle(t *testing.T) {
	router := &fakeRouter{reply: &assistant.Reply{ResponseText: "answer"}}
	h := newHarnessWithOutput(t, granted(), router, speech.OutputOptions{
		Language:     "en-US",
		StartTimeout: 50 * time.Millisecond,
	})

	// 没有客户端回报播放进度
	require.NoError(t, h.o.StartListening(context.Background()))
	require.NoError(t, h.capture.Final("", "question"))
	require.Eventually(t, func() bool { return len(h.events.outcomes()) == 1 }, waitTimeout, 5*time.Millisecond)
	h.waitState(t, statemachine.SessionStateIdle)

	outcome := h.events.outcomes()[0]
	assert.Equal(t, domain.TurnPlaybackFailed, outcome.Outcome)
	assert.Equal(t, "timeout", outcome.ErrorKind)
	assert.Contains(t, h.events.states(), statemachine.SessionStateSpeaking)
	notices := h.events.notices()
	require.Len(t, notices, 1)
	assert.Equal(t, "Speech Error", notices[0].Title)
	assert.Len(t, h.o.Snapshot().Transcript, 3)
	assert.False(t, h.output.Speaking())
	require.Eventually(t, func() bool {
		return h.playback.Current() == "" && len(h.events.ofType(eventbus.SessionEventPlaybackCancelled)) == 1
	}, waitTimeout, 5*time.Millisecond)
}

func TestPlaybackNeverEndingReturnsToIdle(t *testing.T) {
	router := &fakeRouter{reply: &assistant.Reply{ResponseText: "answer"}}
	h := newHarnessWithOutput(t, granted(), router, speech.OutputOptions{
		Language:            "en-US",
		StartTimeout:        time.Second,
		MaxPlaybackDuration: 50 * time.Millisecond,
	})

	h.speakTurn(t, "question")
	require.NoError(t, h.playback.Started(""))
	require.Eventually(t, func() bool { return len(h.events.outcomes()) == 1 }, waitTimeout, 5*time.Millisecond)
	h.waitState(t, statemachine.SessionStateIdle)

	assert.Equal(t, domain.TurnPlaybackFailed, h.events.outcomes()[0].Outcome)
	assert.Equal(t, "timeout", h.events.outcomes()[0].ErrorKind)
	require.Eventually(t, func() bool {
		return errors.Is(h.playback.Ended(""), speech.ErrUnknownSession)
	}, waitTimeout, 5*time.Millisecond)

	require.NoError(t, h.o.StartListening(context.Background()))
	assert.Equal(t, statemachine.SessionStateListening, h.o.Snapshot().State)
}

func TestCloseDropsLateBackendResult(t *testing.T) {
	release := make(chan struct{})
	router := &fakeRouter{reply: &assistant.Reply{ResponseText: "late"}, release: release}
	h := newHarness(t, granted(), router)
	ctx := context.Background()

	require.NoError(t, h.o.StartListening(ctx))
	require.NoError(t, h.capture.Final("", "hello"))
	h.waitState(t, statemachine.SessionStateProcessing)
	require.Eventually(t, func() bool { return h.router.callCount() == 1 }, waitTimeout, 5*time.Millisecond)

	require.NoError(t, h.o.Close(ctx))
	snapshot := h.o.Snapshot()
	assert.Equal(t, statemachine.SessionStateIdle, snapshot.State)
	require.Len(t, snapshot.Transcript, 1)

	close(release)
	time.Sleep(50 * time.Millisecond)

	snapshot = h.o.Snapshot()
	assert.Equal(t, statemachine.SessionStateIdle, snapshot.State)
	assert.Len(t, snapshot.Transcript, 1)
	assert.Empty(t, h.playback.Current())

	outcomes := h.events.outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.TurnCancelled, outcomes[0].Outcome)
}

func TestCloseWhileListeningAbortsCapture(t *testing.T) {
	h := newHarness(t, granted(), &fakeRouter{})
	ctx := context.Background()

	require.NoError(t, h.o.StartListening(ctx))
	require.NoError(t, h.o.Close(ctx))
	assert.Equal(t, statemachine.SessionStateIdle, h.o.Snapshot().State)

	// 迟到的识别结果被丢弃
	_ = h.capture.Final("", "too late")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, statemachine.SessionStateIdle, h.o.Snapshot().State)
	assert.Len(t, h.o.Snapshot().Transcript, 1)

	require.NoError(t, h.o.StartListening(ctx))
	assert.Equal(t, statemachine.SessionStateListening, h.o.Snapshot().State)
}

func TestSnapshotStatesFollowStateMachine(t *testing.T) {
	router := &fakeRouter{reply: &assistant.Reply{ResponseText: "answer"}}
	h := newHarness(t, granted(), router)

	for i := 0; i < 3; i++ {
		h.speakTurn(t, "question")
		require.NoError(t, h.playback.Ended(""))
		h.waitState(t, statemachine.SessionStateIdle)
	}

	machine := statemachine.NewSessionStateMachine()
	states := h.events.states()
	require.NotEmpty(t, states)
	for i := 1; i < len(states); i++ {
		if states[i] == states[i-1] {
			continue
		}
		assert.True(t, machine.CanTransition(states[i-1], states[i]), "illegal transition %s -> %s", states[i-1], states[i])
	}
	assert.Equal(t, uint64(3), h.o.Snapshot().Turn)
	assert.Len(t, h.o.Snapshot().Transcript, 7)
}

func TestShutdownRejectsIntents(t *testing.T) {
	h := newHarness(t, granted(), &fakeRouter{})
	h.o.Shutdown()

	err := h.o.StartListening(context.Background())
	require.ErrorIs(t, err, ErrOrchestratorStopped)
	err = h.o.Close(context.Background())
	require.ErrorIs(t, err, ErrOrchestratorStopped)
}

func TestResourceTokenPreemption(t *testing.T) {
	var token resourceToken
	micReleased := 0
	token.acquire(resourceMic, func() { micReleased++ })
	assert.Equal(t, resourceMic, token.held())

	token.acquire(resourceSpeaker, func() {})
	assert.Equal(t, 1, micReleased)
	assert.Equal(t, resourceSpeaker, token.held())

	token.releaseIf(resourceMic)
	assert.Equal(t, resourceSpeaker, token.held())
	token.releaseIf(resourceSpeaker)
	assert.Equal(t, resourceNone, token.held())
}

func TestReplyTextPolicy(t *testing.T) {
	assert.Equal(t, "hi", replyText(&assistant.Reply{ResponseText: " hi "}))
	assert.Equal(t, emptyReplyText, replyText(&assistant.Reply{}))
	assert.Equal(t, emptyReplyText, replyText(nil))
	assert.Equal(t, "Okay, I found a recipe for you: Soup. Check the recipe details!",
		replyText(&assistant.Reply{Suggestion: &domain.Suggestion{RecipeName: "Soup"}}))
}
