package score

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"RiftBeacon/internal/auth"
	"RiftBeacon/internal/events"
	xerrors "RiftBeacon/internal/errors"
	"RiftBeacon/internal/ledger"
	"RiftBeacon/internal/web3"
)

var (
	scorer = common.HexToAddress("0x5c")
	user   = common.HexToAddress("0x0e")
	anyone = common.HexToAddress("0xaa")
)

const start = 1_700_000_000

func newEngine() (*Engine, *web3.ManualClock, *events.Recorder) {
	clock := web3.NewManualClock(start)
	rec := events.NewRecorder()
	led := ledger.NewMemory(clock, ledger.WithPublisher(rec))
	policy := auth.NewPolicy()
	policy.Grant(scorer, auth.CapabilityScorer)
	engine, err := NewEngine(led, policy, DefaultParams())
	if err != nil {
		panic(err)
	}
	return engine, clock, rec
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()
	engine, _, rec := newEngine()

	require.True(t, errors.Is(engine.Initialize(ctx, anyone, user, 10), auth.ErrUnauthorized))
	require.NoError(t, engine.Initialize(ctx, scorer, user, 50_000))

	got, found, err := engine.Get(ctx, user)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(10_000), got.Score)
	require.Equal(t, uint64(start), got.LastActivity)

	err = engine.Initialize(ctx, scorer, user, 1)
	require.True(t, errors.Is(err, ErrAlreadyInitialized))
	require.Equal(t, xerrors.CategoryConflict, xerrors.CategoryOf(err))
	require.Empty(t, rec.Events())
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	engine, clock, rec := newEngine()

	_, err := engine.Update(ctx, scorer, user, 5)
	require.True(t, errors.Is(err, ErrNotInitialized))

	require.NoError(t, engine.Initialize(ctx, scorer, user, 1_000))
	clock.Advance(60)

	newScore, err := engine.Update(ctx, scorer, user, -250)
	require.NoError(t, err)
	require.Equal(t, uint64(750), newScore)

	last, err := engine.GetLastActivity(ctx, user)
	require.NoError(t, err)
	require.Equal(t, uint64(start+60), last)

	_, err = engine.Update(ctx, anyone, user, 1)
	require.True(t, errors.Is(err, auth.ErrUnauthorized))

	emitted := rec.Events()
	require.Len(t, emitted, 1)
	require.Equal(t, events.KindScoreChanged, emitted[0].Kind)
	require.Equal(t, "750", emitted[0].Attr("new_score"))
	require.Equal(t, "-250", emitted[0].Attr("delta"))
}

func TestApplyDecay(t *testing.T) {
	ctx := context.Background()
	engine, clock, rec := newEngine()
	day := engine.Params().DecayInterval

	// 未初始化的身份是空操作。
	s, err := engine.ApplyDecay(ctx, anyone, user)
	require.NoError(t, err)
	require.Zero(t, s)

	require.NoError(t, engine.Initialize(ctx, scorer, user, 1_000))

	clock.Advance(day - 1)
	s, err = engine.ApplyDecay(ctx, anyone, user)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), s)

	clock.Advance(1)
	s, err = engine.ApplyDecay(ctx, anyone, user)
	require.NoError(t, err)
	require.Equal(t, uint64(950), s)

	// 同一周期内再次调用不再衰减。
	clock.Advance(day / 2)
	s, err = engine.ApplyDecay(ctx, anyone, user)
	require.NoError(t, err)
	require.Equal(t, uint64(950), s)

	last, _ := engine.GetLastActivity(ctx, user)
	require.Equal(t, uint64(start), last, "decay must not refresh last activity")

	clock.Advance(day / 2)
	s, _ = engine.ApplyDecay(ctx, anyone, user)
	require.Equal(t, uint64(903), s)

	kinds := rec.Kinds()
	require.Equal(t, []events.Kind{events.KindScoreChanged, events.KindScoreChanged}, kinds)
	require.Equal(t, "decay", rec.Events()[0].Attr("reason"))
}

func TestUpdateRestartsDecayClock(t *testing.T) {
	ctx := context.Background()
	engine, clock, _ := newEngine()
	day := engine.Params().DecayInterval

	require.NoError(t, engine.Initialize(ctx, scorer, user, 1_000))
	clock.Advance(day - 10)
	_, err := engine.Update(ctx, scorer, user, 10)
	require.NoError(t, err)

	clock.Advance(20)
	s, err := engine.ApplyDecay(ctx, anyone, user)
	require.NoError(t, err)
	require.Equal(t, uint64(1_010), s)
}

type scoreModel struct {
	engine  *Engine
	clock   *web3.ManualClock
	model   uint64
	lastRun uint64
}

func (m *scoreModel) Init(t *rapid.T) {
	m.engine, m.clock, _ = newEngine()
	initial := rapid.Uint64Range(0, 20_000).Draw(t, "initial").(uint64)
	if err := m.engine.Initialize(context.Background(), scorer, user, initial); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	m.model = initial
	if m.model > 10_000 {
		m.model = 10_000
	}
}

func (m *scoreModel) Update(t *rapid.T) {
	delta := rapid.Int64().Draw(t, "delta").(int64)
	got, err := m.engine.Update(context.Background(), scorer, user, delta)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	m.model = ApplyDelta(m.model, delta, 10_000)
	if got != m.model {
		t.Fatalf("update returned %d, model %d", got, m.model)
	}
}

func (m *scoreModel) Decay(t *rapid.T) {
	m.clock.Advance(rapid.Uint64Range(0, 3*86_400).Draw(t, "elapsed").(uint64))
	before, _ := m.engine.GetScore(context.Background(), user)
	first, err := m.engine.ApplyDecay(context.Background(), anyone, user)
	if err != nil {
		t.Fatalf("decay: %v", err)
	}
	second, err := m.engine.ApplyDecay(context.Background(), anyone, user)
	if err != nil {
		t.Fatalf("decay: %v", err)
	}
	if first > before {
		t.Fatalf("decay increased score %d -> %d", before, first)
	}
	if second != first {
		t.Fatalf("second decay at the same instant changed score %d -> %d", first, second)
	}
	m.model = first
}

func (m *scoreModel) Check(t *rapid.T) {
	got, err := m.engine.GetScore(context.Background(), user)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got > 10_000 {
		t.Fatalf("score %d exceeds max", got)
	}
	if got != m.model {
		t.Fatalf("score %d, model %d", got, m.model)
	}
}

func TestScoreBoundsProperty(t *testing.T) {
	rapid.Check(t, rapid.Run(&scoreModel{}))
}
