package validation

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// stubRecorder captures outcomes; one entry per validated candidate.
type stubRecorder struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (r *stubRecorder) Record(out Outcome, c *Candidate) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, out)
	r.mu.Unlock()
}

func (r *stubRecorder) all() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Outcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

const testLimit = 5 * 1024 * 1024

func testPipeline(rec Recorder) (*Pipeline, *ResourceManager) {
	rm := NewResourceManager(nil)
	p := New(Config{
		MaxSizeBytes: testLimit,
		AllowedTypes: []string{TypePNG, TypeJPEG, TypeWebP, TypeGIF},
		ScanEnabled:  true,
	}, rm, rec, nil)
	return p, rm
}

func TestPipeline_AcceptsCleanPNGAtExactLimit(t *testing.T) {
	rec := &stubRecorder{}
	p, rm := testPipeline(rec)

	payload := buildPNGSized(testLimit)
	out, cand := p.Run(context.Background(), bytes.NewReader(payload), 0, "image/png", "chart.png", "10.0.0.1")

	require.True(t, out.Accepted)
	require.Equal(t, TypePNG, out.DetectedType)
	require.Equal(t, int64(testLimit), out.SizeBytes)
	require.NotNil(t, cand)

	// Hand-off buffer must be byte-identical to the uploaded content.
	buf := rm.Handoff(cand)
	require.True(t, bytes.Equal(payload, buf))
	require.Equal(t, 0, rm.ActiveCount())

	events := rec.all()
	require.Len(t, events, 1, "success events are recorded too")
	require.True(t, events[0].Accepted)
	require.Less(t, events[0].ElapsedMillis, int64(500))
}

func TestPipeline_OneByteOverLimitRejectsMidStream(t *testing.T) {
	rec := &stubRecorder{}
	p, rm := testPipeline(rec)

	payload := bytes.Repeat([]byte{0xAA}, testLimit+1)
	out, cand := p.Run(context.Background(), bytes.NewReader(payload), 0, "image/png", "big.png", "10.0.0.1")

	require.False(t, out.Accepted)
	require.Equal(t, FailureSizeExceededStream, out.FailureKind)
	require.Nil(t, cand)
	require.Equal(t, 0, rm.ActiveCount(), "partial buffer must be released")
}

func TestPipeline_DeclaredOversizeRejectsBeforeBodyRead(t *testing.T) {
	rec := &stubRecorder{}
	p, _ := testPipeline(rec)

	r := &countingReader{remaining: 1024}
	out, _ := p.Run(context.Background(), r, testLimit+1, "image/png", "big.png", "10.0.0.1")

	require.Equal(t, FailureSizeExceededHeader, out.FailureKind)
	require.Zero(t, r.read, "header rejection must not read the body")
}

func TestPipeline_TextFileRenamedToPNG(t *testing.T) {
	rec := &stubRecorder{}
	p, rm := testPipeline(rec)

	out, _ := p.Run(context.Background(), bytes.NewReader([]byte("just text")), 0, "image/png", "fake.png", "10.0.0.1")
	require.Equal(t, FailureSignatureMismatch, out.FailureKind)
	require.Equal(t, 0, rm.ActiveCount())
}

func TestPipeline_ShortCircuitsOnSize(t *testing.T) {
	rec := &stubRecorder{}
	p, _ := testPipeline(rec)

	// Oversized and carrying a threat pattern; the size stage must win.
	payload := append(bytes.Repeat([]byte{0xAA}, testLimit), []byte("<script>")...)
	out, _ := p.Run(context.Background(), bytes.NewReader(payload), 0, "image/png", "evil.png", "10.0.0.1")
	require.Equal(t, FailureSizeExceededStream, out.FailureKind)
}

func TestPipeline_ThreatInContent(t *testing.T) {
	rec := &stubRecorder{}
	p, rm := testPipeline(rec)

	payload := buildPNG([]byte("<script>alert(1)</script>"))
	out, _ := p.Run(context.Background(), bytes.NewReader(payload), 0, "image/png", "poly.png", "10.0.0.1")

	require.Equal(t, FailureThreatPatternDetected, out.FailureKind)
	require.Equal(t, "script-tag", out.ThreatCategory)
	require.Equal(t, 0, rm.ActiveCount())

	events := rec.all()
	require.Len(t, events, 1)
	require.Equal(t, "script-tag", events[0].ThreatCategory)
}

func TestPipeline_ThreatInMetadata(t *testing.T) {
	rec := &stubRecorder{}
	p, _ := testPipeline(rec)

	payload := buildJPEGWithEXIF("<script>alert(1)</script>")
	out, _ := p.Run(context.Background(), bytes.NewReader(payload), 0, "image/jpeg", "photo.jpg", "10.0.0.1")
	require.Equal(t, FailureThreatPatternInMetadata, out.FailureKind)
	require.Equal(t, "script-tag", out.ThreatCategory)
}

func TestPipeline_ScanDisabledSkipsContentStage(t *testing.T) {
	rm := NewResourceManager(nil)
	p := New(Config{
		MaxSizeBytes: testLimit,
		AllowedTypes: []string{TypePNG},
		ScanEnabled:  false,
	}, rm, nil, nil)

	payload := buildPNG([]byte("<script>alert(1)</script>"))
	out, cand := p.Run(context.Background(), bytes.NewReader(payload), 0, "image/png", "x.png", "10.0.0.1")
	require.True(t, out.Accepted)
	rm.Handoff(cand)
}

func TestPipeline_IdempotentForIdenticalBytes(t *testing.T) {
	p, rm := testPipeline(nil)
	payload := buildPNG([]byte("<script>alert(1)</script>"))

	for i := 0; i < 2; i++ {
		out, _ := p.Run(context.Background(), bytes.NewReader(payload), 0, "image/png", "same.png", "10.0.0.1")
		require.Equal(t, FailureThreatPatternDetected, out.FailureKind, "attempt %d", i+1)
	}

	clean := buildPNG(nil)
	for i := 0; i < 2; i++ {
		out, cand := p.Run(context.Background(), bytes.NewReader(clean), 0, "image/png", "same.png", "10.0.0.1")
		require.True(t, out.Accepted, "attempt %d", i+1)
		rm.Handoff(cand)
	}
}

func TestPipeline_NoLeakedBuffersAfterManyRejections(t *testing.T) {
	rec := &stubRecorder{}
	p, rm := testPipeline(rec)

	for i := 0; i < 1000; i++ {
		payload := []byte(fmt.Sprintf("not an image %d", i))
		out, cand := p.Run(context.Background(), bytes.NewReader(payload), 0, "image/png", "r.png", "10.0.0.1")
		require.False(t, out.Accepted)
		require.Nil(t, cand)
	}
	require.Equal(t, 0, rm.ActiveCount(), "no handles may leak across rejections")
	require.Len(t, rec.all(), 1000)
}

func TestPipeline_ConcurrentUploadsStayIndependent(t *testing.T) {
	const n = 50
	rec := &stubRecorder{}
	p, rm := testPipeline(rec)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := buildPNG([]byte(fmt.Sprintf("frame-%04d", i)))
			out, cand := p.Run(context.Background(), bytes.NewReader(payload), 0, "image/png", fmt.Sprintf("c%d.png", i), "10.0.0.1")
			if !out.Accepted {
				errs <- fmt.Errorf("upload %d rejected: %s", i, out.FailureKind)
				return
			}
			buf := rm.Handoff(cand)
			if !bytes.Equal(buf, payload) {
				errs <- fmt.Errorf("upload %d buffer cross-contaminated", i)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	events := rec.all()
	require.Len(t, events, n)
	seen := map[string]bool{}
	for _, ev := range events {
		require.True(t, ev.Accepted)
		require.False(t, seen[ev.CandidateID], "candidate IDs must be distinct")
		seen[ev.CandidateID] = true
	}
	require.Equal(t, 0, rm.ActiveCount())
}

func TestPipeline_ExpiredContextClassifiesAsTimeout(t *testing.T) {
	rec := &stubRecorder{}
	p, rm := testPipeline(rec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewCandidate("image/png", "slow.png", "10.0.0.1")
	c.RawBytes = buildPNG(nil)
	rm.Track(c)

	out := p.Validate(ctx, c)
	require.Equal(t, FailureValidationTimeout, out.FailureKind)
	require.Equal(t, 0, rm.ActiveCount(), "timeout must still release the buffer")
}

func TestPipeline_ScanTimeoutLeavesBufferForLateScanner(t *testing.T) {
	rm := NewResourceManager(nil)
	p := New(Config{
		MaxSizeBytes: testLimit,
		AllowedTypes: []string{TypePNG},
		ScanEnabled:  true,
		Timeout:      5 * time.Millisecond,
	}, rm, nil, nil)

	release := make(chan struct{})
	p.scan = func(buf []byte, _ string) error {
		<-release
		_ = buf[0] // late read after the pipeline already gave up
		return nil
	}

	payload := buildPNG(nil)
	c := NewCandidate("image/png", "slow.png", "10.0.0.1")
	c.RawBytes = payload
	rm.Track(c)

	out := p.Validate(context.Background(), c)
	require.Equal(t, FailureValidationTimeout, out.FailureKind)
	require.Equal(t, 0, rm.ActiveCount())
	// The stuck scanner still holds the slice; the pipeline must have dropped
	// its reference rather than zeroing the shared array underneath it.
	require.Equal(t, byte(0x89), payload[0])
	close(release)
}

func TestPipeline_ValidateIsPureOverConfigAndBytes(t *testing.T) {
	p, rm := testPipeline(nil)

	mk := func() *Candidate {
		c := NewCandidate("image/jpeg", "a.jpg", "10.0.0.1")
		c.RawBytes = buildJPEG()
		rm.Track(c)
		return c
	}
	first := p.Validate(context.Background(), mk())
	second := p.Validate(context.Background(), mk())
	require.Equal(t, first.Accepted, second.Accepted)
	require.Equal(t, first.FailureKind, second.FailureKind)
	require.Equal(t, first.DetectedType, second.DetectedType)
	require.NotEqual(t, first.CandidateID, second.CandidateID)
}

func TestPipeline_DefaultTimeoutApplied(t *testing.T) {
	p := New(Config{MaxSizeBytes: 1, AllowedTypes: []string{TypePNG}}, NewResourceManager(nil), nil, nil)
	require.Equal(t, DefaultTimeout, p.Config().Timeout)
	require.Equal(t, 0.7, p.Config().AnomalyThreshold)
}
