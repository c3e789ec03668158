package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/bragi_jukebox/internal/config"
	"github.com/friendsincode/bragi_jukebox/internal/events"
	"github.com/friendsincode/bragi_jukebox/internal/filler"
	"github.com/friendsincode/bragi_jukebox/internal/models"
	"github.com/friendsincode/bragi_jukebox/internal/queue"
)

type fakeResolver struct {
	mu           sync.Mutex
	entries      map[string]queue.Entry
	playlist     []queue.Entry
	failDownload bool
	downloads    []string
}

func (f *fakeResolver) Resolve(_ context.Context, url string) (*queue.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[url]
	if !ok {
		return nil, fmt.Errorf("unknown url %s", url)
	}
	out := e
	return &out, nil
}

func (f *fakeResolver) PlaylistLength(_ context.Context, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.playlist) == 0 {
		return 0, errors.New("no playlist")
	}
	return len(f.playlist), nil
}

func (f *fakeResolver) PlaylistItem(_ context.Context, _ string, index int) (*queue.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if index < 0 || index >= len(f.playlist) {
		return nil, fmt.Errorf("index %d out of range", index)
	}
	out := f.playlist[index]
	return &out, nil
}

func (f *fakeResolver) Download(_ context.Context, url, dest string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDownload {
		return errors.New("download refused")
	}
	f.downloads = append(f.downloads, url)
	return os.WriteFile(dest, []byte("media"), 0o644)
}

type fakeDevice struct {
	mu      sync.Mutex
	done    chan struct{}
	playing bool
	loads   []string
	offsets []time.Duration
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{done: make(chan struct{})}
}

func (d *fakeDevice) Load(_ context.Context, path string, offset time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loads = append(d.loads, path)
	d.offsets = append(d.offsets, offset)
	d.playing = true
	return nil
}

func (d *fakeDevice) Play() error  { d.mu.Lock(); d.playing = true; d.mu.Unlock(); return nil }
func (d *fakeDevice) Pause() error { d.mu.Lock(); d.playing = false; d.mu.Unlock(); return nil }
func (d *fakeDevice) Seek(time.Duration) error { return nil }
func (d *fakeDevice) Position() (time.Duration, bool) {
	return 1500 * time.Millisecond, true
}
func (d *fakeDevice) IsPlaying() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.playing
}
func (d *fakeDevice) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}
func (d *fakeDevice) Unload() error { d.mu.Lock(); d.playing = false; d.mu.Unlock(); return nil }
func (d *fakeDevice) Close(context.Context) error { return nil }

func (d *fakeDevice) finish() {
	d.mu.Lock()
	close(d.done)
	d.mu.Unlock()
}

func (d *fakeDevice) loadCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.loads)
}

type submission struct {
	entry   queue.Entry
	skipped bool
}

type fakeArchiver struct {
	mu   sync.Mutex
	subs []submission
}

func (a *fakeArchiver) Submit(_ context.Context, entry queue.Entry, skipped bool) error {
	a.mu.Lock()
	a.subs = append(a.subs, submission{entry, skipped})
	a.mu.Unlock()
	return nil
}

func (a *fakeArchiver) submissions() []submission {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]submission, len(a.subs))
	copy(out, a.subs)
	return out
}

type testRig struct {
	svc      *Service
	store    *queue.Store
	filler   *filler.Supplier
	resolver *fakeResolver
	device   *fakeDevice
	archiver *fakeArchiver
	bus      *events.Bus
	dir      string
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	dir := t.TempDir()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.FillerSettings{}, &models.PlayHistory{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	store, err := queue.NewStore(filepath.Join(dir, "QUEUE"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	res := &fakeResolver{entries: map[string]queue.Entry{
		"url1": {ID: "vid1", Title: "first song", Duration: 2 * time.Minute, Thumbnail: "t1"},
		"url2": {ID: "vid2", Title: "second song", Duration: 3 * time.Minute, Thumbnail: "t2"},
		"url3": {ID: "vid3", Title: "third song", Duration: 1 * time.Minute, Thumbnail: "t3"},
	}}

	fil, err := filler.NewSupplier(db, res, zerolog.Nop())
	if err != nil {
		t.Fatalf("new supplier: %v", err)
	}

	cfg := &config.Config{MediaRoot: dir, PollInterval: 50 * time.Millisecond}
	dev := newFakeDevice()
	arch := &fakeArchiver{}
	bus := events.NewBus()

	svc := NewService(cfg, store, fil, res, dev, arch, bus, zerolog.Nop())
	return &testRig{svc: svc, store: store, filler: fil, resolver: res, device: dev, archiver: arch, bus: bus, dir: dir}
}

func (r *testRig) waitStaging(t *testing.T) {
	t.Helper()
	r.svc.mu.Lock()
	done := r.svc.stagedDone
	r.svc.mu.Unlock()
	if done == nil {
		t.Fatal("no staging task running")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("staging task did not finish")
	}
}

func TestPushReportsEffectivePosition(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	// Nothing active: the pushed head moves up immediately.
	pos, err := r.svc.Push(ctx, "url1")
	if err != nil {
		t.Fatalf("push url1: %v", err)
	}
	if pos != 0 {
		t.Fatalf("push into empty system: want position 0, got %d", pos)
	}
	pos, err = r.svc.Push(ctx, "url2")
	if err != nil {
		t.Fatalf("push url2: %v", err)
	}
	if pos != 1 {
		t.Fatalf("second push: want position 1, got %d", pos)
	}

	// With an active entry the on-disk count stands as-is.
	r.svc.mu.Lock()
	r.svc.active = &queue.Entry{ID: "vidX"}
	r.svc.activeReady = true
	r.svc.mu.Unlock()
	pos, err = r.svc.Push(ctx, "url3")
	if err != nil {
		t.Fatalf("push url3: %v", err)
	}
	if pos != 3 {
		t.Fatalf("push with active occupied: want position 3, got %d", pos)
	}
}

func TestPushUnresolvableEmitsFailureEvent(t *testing.T) {
	r := newTestRig(t)
	bucket := r.bus.Subscribe()

	if _, err := r.svc.Push(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unresolvable url")
	}

	evts := bucket.Drain()
	if len(evts) != 1 || evts[0].Name != events.EventQueueSong {
		t.Fatalf("want one queue_song event, got %+v", evts)
	}
	if evts[0].Data["success"] != false || evts[0].Data["pos"] != -1 {
		t.Fatalf("failure payload wrong: %+v", evts[0].Data)
	}
	if evts[0].Data["id"] != "nope" {
		t.Fatalf("raw input not preserved in failure event: %+v", evts[0].Data)
	}

	if list, _ := r.store.List(); len(list) != 0 {
		t.Fatalf("store must stay empty after rejected push, got %d entries", len(list))
	}
}

func TestCyclePromotesAndStages(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	if _, err := r.svc.Push(ctx, "url1"); err != nil {
		t.Fatalf("push url1: %v", err)
	}
	if _, err := r.svc.Push(ctx, "url2"); err != nil {
		t.Fatalf("push url2: %v", err)
	}

	r.svc.readyCycle(ctx)

	r.svc.mu.Lock()
	active := r.svc.active
	r.svc.mu.Unlock()
	if active == nil || active.ID != "vid1" {
		t.Fatalf("want vid1 active after first cycle, got %+v", active)
	}
	if _, err := os.Stat(r.svc.activeSlotPath()); err != nil {
		t.Fatalf("active slot media missing: %v", err)
	}

	r.waitStaging(t)
	r.svc.mu.Lock()
	staged, ready := r.svc.staged, r.svc.stagedReady
	r.svc.mu.Unlock()
	if staged == nil || staged.ID != "vid2" || !ready {
		t.Fatalf("want vid2 staged and ready, got %+v ready=%v", staged, ready)
	}
	if _, err := os.Stat(r.svc.stagedSlotPath()); err != nil {
		t.Fatalf("staged slot media missing: %v", err)
	}

	if n := r.svc.Skip(ctx, 1, false); n != 1 {
		t.Fatalf("skip count=1: want 1 skipped, got %d", n)
	}
	subs := r.archiver.submissions()
	if len(subs) != 1 || subs[0].entry.ID != "vid1" || !subs[0].skipped {
		t.Fatalf("skipped vid1 not archived: %+v", subs)
	}

	r.svc.readyCycle(ctx)
	r.svc.mu.Lock()
	active = r.svc.active
	staged = r.svc.staged
	r.svc.mu.Unlock()
	if active == nil || active.ID != "vid2" {
		t.Fatalf("want staged vid2 promoted after skip, got %+v", active)
	}
	if staged != nil && staged.ID == "vid2" {
		t.Fatal("promoted entry still staged")
	}
	if _, err := os.Stat(r.svc.activeSlotPath()); err != nil {
		t.Fatalf("promoted media missing from active slot: %v", err)
	}
}

func TestFillerSuppliesWhenQueueEmpty(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	r.resolver.mu.Lock()
	r.resolver.playlist = []queue.Entry{
		{ID: "f0", Title: "filler zero", Duration: time.Minute},
		{ID: "f1", Title: "filler one", Duration: time.Minute},
		{ID: "f2", Title: "filler two", Duration: time.Minute},
	}
	r.resolver.mu.Unlock()
	if err := r.filler.Configure(ctx, "pl", 0, false); err != nil {
		t.Fatalf("configure filler: %v", err)
	}
	bucket := r.bus.Subscribe()

	r.svc.readyCycle(ctx)

	r.svc.mu.Lock()
	active := r.svc.active
	r.svc.mu.Unlock()
	if active == nil || active.ID != "f0" || !active.Filler {
		t.Fatalf("want filler f0 active, got %+v", active)
	}
	if _, index := r.filler.Config(); index != 1 {
		t.Fatalf("filler cursor not advanced after consumption, at index %d", index)
	}

	foundFillerEvent := false
	for _, e := range bucket.Drain() {
		if e.Name == events.EventQueueSong && e.Data["b_track"] == true {
			foundFillerEvent = true
			if e.Data["pos"] != 1 || e.Data["success"] != true {
				t.Fatalf("filler queue_song payload wrong: %+v", e.Data)
			}
		}
	}
	if !foundFillerEvent {
		t.Fatal("no queue_song event for filler supply")
	}
}

func TestStagedFillerDiscardedOnPush(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	r.resolver.mu.Lock()
	r.resolver.playlist = []queue.Entry{
		{ID: "f0", Title: "filler zero", Duration: time.Minute},
		{ID: "f1", Title: "filler one", Duration: time.Minute},
	}
	r.resolver.mu.Unlock()
	if err := r.filler.Configure(ctx, "pl", 0, false); err != nil {
		t.Fatalf("configure filler: %v", err)
	}

	// First cycle: f0 active, f1 staged (peeked, cursor not advanced for it).
	r.svc.readyCycle(ctx)
	r.waitStaging(t)
	r.svc.mu.Lock()
	staged := r.svc.staged
	r.svc.mu.Unlock()
	if staged == nil || !staged.Filler {
		t.Fatalf("expected staged filler, got %+v", staged)
	}

	if _, err := r.svc.Push(ctx, "url1"); err != nil {
		t.Fatalf("push: %v", err)
	}

	r.svc.readyCycle(ctx)
	r.waitStaging(t)
	r.svc.mu.Lock()
	staged = r.svc.staged
	r.svc.mu.Unlock()
	if staged == nil || staged.ID != "vid1" {
		t.Fatalf("staged filler not replaced by queued entry, got %+v", staged)
	}
	if _, index := r.filler.Config(); index != 1 {
		t.Fatalf("discarded filler peek must not move the cursor, at index %d", index)
	}
}

func TestSkipClearsSlotsAndDiscardsHeads(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	r.svc.mu.Lock()
	r.svc.active = &queue.Entry{ID: "vidA", Title: "playing"}
	r.svc.activeReady = true
	r.svc.staged = &queue.Entry{ID: "vidB", Title: "staged"}
	r.svc.stagedReady = true
	done := make(chan struct{})
	close(done)
	r.svc.stagedDone = done
	r.svc.mu.Unlock()

	if _, err := r.store.Push(
		&queue.Entry{ID: "vidC", Title: "third", Duration: time.Minute},
		&queue.Entry{ID: "vidD", Title: "fourth", Duration: time.Minute},
	); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	if n := r.svc.Skip(ctx, 4, false); n != 4 {
		t.Fatalf("skip count=4: want 4 skipped, got %d", n)
	}

	subs := r.archiver.submissions()
	if len(subs) != 4 {
		t.Fatalf("want 4 archived submissions, got %d", len(subs))
	}
	for i, want := range []string{"vidA", "vidB", "vidC", "vidD"} {
		if subs[i].entry.ID != want || !subs[i].skipped {
			t.Fatalf("submission %d: want %s skipped, got %+v", i, want, subs[i])
		}
	}
	if list, _ := r.store.List(); len(list) != 0 {
		t.Fatalf("store not drained by skip, %d left", len(list))
	}
}

func TestSkipFillsRemainderFromQueueWhenStagedEmpty(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	r.svc.mu.Lock()
	r.svc.active = &queue.Entry{ID: "vidA", Title: "playing"}
	r.svc.activeReady = true
	r.svc.mu.Unlock()

	if _, err := r.store.Push(
		&queue.Entry{ID: "vidB", Title: "second", Duration: time.Minute},
		&queue.Entry{ID: "vidC", Title: "third", Duration: time.Minute},
	); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	// Staging has not run yet, so the queue must make up the shortfall.
	if n := r.svc.Skip(ctx, 3, false); n != 3 {
		t.Fatalf("skip count=3 with empty staged slot: want 3, got %d", n)
	}
	if list, _ := r.store.List(); len(list) != 0 {
		t.Fatalf("store not drained, %d left", len(list))
	}

	subs := r.archiver.submissions()
	if len(subs) != 3 {
		t.Fatalf("want 3 archived submissions, got %d", len(subs))
	}
	for i, want := range []string{"vidA", "vidB", "vidC"} {
		if subs[i].entry.ID != want || !subs[i].skipped {
			t.Fatalf("submission %d: want %s skipped, got %+v", i, want, subs[i])
		}
	}
}

func TestSkipWithNothingActiveDiscardsHead(t *testing.T) {
	r := newTestRig(t)

	if _, err := r.store.Push(&queue.Entry{ID: "vidB", Title: "queued", Duration: time.Minute}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	if n := r.svc.Skip(context.Background(), 1, false); n != 1 {
		t.Fatalf("skip count=1 with idle slots: want 1 queue head dropped, got %d", n)
	}
	if list, _ := r.store.List(); len(list) != 0 {
		t.Fatalf("queue head not discarded, %d left", len(list))
	}
}

func TestSkipWithPurgeSuppressesArchival(t *testing.T) {
	r := newTestRig(t)

	r.svc.mu.Lock()
	r.svc.active = &queue.Entry{ID: "vidA"}
	r.svc.activeReady = true
	r.svc.mu.Unlock()

	if n := r.svc.Skip(context.Background(), 2, true); n != 1 {
		t.Fatalf("skip with only active present: want 1, got %d", n)
	}
	if subs := r.archiver.submissions(); len(subs) != 0 {
		t.Fatalf("purge must not archive, got %+v", subs)
	}
}

func TestSkipZeroIsNoop(t *testing.T) {
	r := newTestRig(t)
	if n := r.svc.Skip(context.Background(), 0, false); n != 0 {
		t.Fatalf("skip count=0: want 0, got %d", n)
	}
}

func TestPushWakesIdleScheduler(t *testing.T) {
	r := newTestRig(t)
	r.svc.cfg.PollInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = r.svc.Run(ctx)
	}()

	// Let the loop settle into its idle wait before pushing.
	time.Sleep(50 * time.Millisecond)

	if _, err := r.svc.Push(ctx, "url1"); err != nil {
		t.Fatalf("push: %v", err)
	}

	// With an hour-long poll interval, only the wake-up can get the
	// track onto the device this fast.
	deadline := time.Now().Add(2 * time.Second)
	for r.device.loadCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("push did not wake the idle scheduler")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler loop did not stop on cancellation")
	}
}

func TestSkipRacingNaturalEndArchivesOnce(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	entry := queue.Entry{ID: "vid1", Title: "first song", Duration: 2 * time.Minute}
	r.svc.mu.Lock()
	r.svc.active = &entry
	r.svc.activeReady = true
	r.svc.mu.Unlock()

	if n := r.svc.Skip(ctx, 1, false); n != 1 {
		t.Fatalf("skip: want 1, got %d", n)
	}

	// The device reported end-of-media for the same track the skip just
	// cleared; the losing side must not archive it again.
	r.svc.finishNatural(ctx, entry)

	subs := r.archiver.submissions()
	if len(subs) != 1 {
		t.Fatalf("want exactly one archived submission, got %d: %+v", len(subs), subs)
	}
	if subs[0].entry.ID != "vid1" || !subs[0].skipped {
		t.Fatalf("skip outcome must win the race: %+v", subs[0])
	}
}

func TestPlayActiveNaturalEnd(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	entry := queue.Entry{ID: "vid1", Title: "first song", Duration: 2 * time.Minute, StartOffset: 30}
	if err := os.WriteFile(r.svc.activeSlotPath(), []byte("media"), 0o644); err != nil {
		t.Fatalf("seed active slot: %v", err)
	}
	r.svc.mu.Lock()
	r.svc.active = &entry
	r.svc.activeReady = true
	r.svc.mu.Unlock()

	bucket := r.bus.Subscribe()
	go func() {
		time.Sleep(20 * time.Millisecond)
		r.device.finish()
	}()

	r.svc.playActive(ctx)

	if len(r.device.loads) != 1 || r.device.offsets[0] != 30*time.Second {
		t.Fatalf("device not loaded with start offset: %v %v", r.device.loads, r.device.offsets)
	}

	evts := bucket.Drain()
	if len(evts) != 1 || evts[0].Name != events.EventPlaySong {
		t.Fatalf("want one play_song event, got %+v", evts)
	}
	if evts[0].Data["duration"] != "00:02:00" || evts[0].Data["id"] != "vid1" {
		t.Fatalf("play_song payload wrong: %+v", evts[0].Data)
	}

	r.svc.mu.Lock()
	active := r.svc.active
	r.svc.mu.Unlock()
	if active != nil {
		t.Fatalf("active not cleared after natural end: %+v", active)
	}
	if _, err := os.Stat(r.svc.activeSlotPath()); !os.IsNotExist(err) {
		t.Fatal("active slot media not removed after natural end")
	}

	subs := r.archiver.submissions()
	if len(subs) != 1 || subs[0].entry.ID != "vid1" || subs[0].skipped {
		t.Fatalf("natural end must archive unskipped: %+v", subs)
	}
}

func TestPlayerStateNullWhenIdle(t *testing.T) {
	r := newTestRig(t)

	status, err := r.svc.PlayerState("")
	if err != nil || status != nil {
		t.Fatalf("idle playerstate: want (nil, nil), got (%+v, %v)", status, err)
	}
	if _, err := r.svc.PlayerState("rewind"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("want ErrInvalidState, got %v", err)
	}
	if r.svc.Seek(10) {
		t.Fatal("seek with nothing active must be a no-op")
	}
}

func TestPlayerStateReportsPosition(t *testing.T) {
	r := newTestRig(t)

	r.svc.mu.Lock()
	r.svc.active = &queue.Entry{ID: "vid1"}
	r.svc.activeReady = true
	r.svc.mu.Unlock()
	r.device.playing = true

	status, err := r.svc.PlayerState("pause")
	if err != nil {
		t.Fatalf("playerstate pause: %v", err)
	}
	if status == nil || status.State != "pause" {
		t.Fatalf("want paused state, got %+v", status)
	}
	if status.PositionMS != 1500 {
		t.Fatalf("want position 1500ms, got %d", status.PositionMS)
	}
}

func TestSnapshotQueue(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	if _, err := r.svc.Push(ctx, "url1"); err != nil {
		t.Fatalf("push: %v", err)
	}
	r.svc.mu.Lock()
	r.svc.active = &queue.Entry{ID: "vidA"}
	r.svc.staged = &queue.Entry{ID: "vidB"}
	r.svc.mu.Unlock()

	snap, err := r.svc.SnapshotQueue()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Current == nil || snap.Current.ID != "vidA" {
		t.Fatalf("snapshot current wrong: %+v", snap.Current)
	}
	if snap.Next == nil || snap.Next.ID != "vidB" {
		t.Fatalf("snapshot next wrong: %+v", snap.Next)
	}
	if len(snap.Queue) != 1 || snap.Queue[0].ID != "vid1" {
		t.Fatalf("snapshot queue wrong: %+v", snap.Queue)
	}
}
