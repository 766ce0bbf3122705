package capture

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lvdscan/internal/monitoring"
	"github.com/banshee-data/lvdscan/internal/video"
	"github.com/banshee-data/lvdscan/internal/video/ethframe"
)

func init() {
	monitoring.SetLogger(nil)
}

// testPacket is one logical packet shared by the classic and
// next-generation fixture writers.
type testPacket struct {
	ts   time.Time
	data []byte
}

// videoPackets builds a short burst of protocol traffic interleaved with
// foreign frames, 5ms apart.
func videoPackets(v video.Variant) []testPacket {
	base := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	payload := make([]byte, v.Width*ethframe.LinesPerChunk)
	for i := range payload {
		payload[i] = byte(i)
	}

	var pkts []testPacket
	seq := uint16(0)
	for line := 1; line+ethframe.LinesPerChunk-1 <= v.ActiveHeight; line += ethframe.LinesPerChunk {
		eof := line+ethframe.LinesPerChunk > v.ActiveHeight
		pkts = append(pkts, testPacket{
			ts:   base.Add(time.Duration(len(pkts)) * 5 * time.Millisecond),
			data: ethframe.Encode(0, eof, line, 1, seq, payload),
		})
		seq++

		// Interleave a frame of foreign traffic that must be skipped.
		pkts = append(pkts, testPacket{
			ts:   base.Add(time.Duration(len(pkts)) * 5 * time.Millisecond),
			data: []byte{0x02, 1, 2, 3, 4, 5, 0x02, 6, 7, 8, 9, 10, 0x08, 0x00, 0xDE, 0xAD},
		})
	}
	return pkts
}

func writeClassicFile(t *testing.T, pkts []testPacket) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for _, p := range pkts {
		ci := gopacket.CaptureInfo{
			Timestamp:     p.ts,
			CaptureLength: len(p.data),
			Length:        len(p.data),
		}
		require.NoError(t, w.WritePacket(ci, p.data))
	}
	return path
}

func writeNgFile(t *testing.T, pkts []testPacket) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.pcapng")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w, err := pcapgo.NewNgWriter(f, layers.LinkTypeEthernet)
	require.NoError(t, err)
	for _, p := range pkts {
		ci := gopacket.CaptureInfo{
			Timestamp:     p.ts,
			CaptureLength: len(p.data),
			Length:        len(p.data),
		}
		require.NoError(t, w.WritePacket(ci, p.data))
	}
	require.NoError(t, w.Flush())
	return path
}

// collectReplay runs a full replay and drains every emitted chunk.
func collectReplay(t *testing.T, path string, cfg Config) ([]video.LineChunk, *Summary) {
	t.Helper()
	out := make(chan video.LineChunk, 1024)
	summary, err := Replay(context.Background(), path, cfg, out)
	require.NoError(t, err)

	var chunks []video.LineChunk
	for {
		select {
		case c := <-out:
			chunks = append(chunks, c)
		default:
			return chunks, summary
		}
	}
}

// fastConfig replays without pacing so tests are not wall-clock bound.
func fastConfig(v video.Variant) Config {
	return Config{
		Variant:         v,
		SpeedMultiplier: 100000,
	}
}

func TestClassicAndNgProduceSameChunks(t *testing.T) {
	t.Parallel()

	v := video.Nichia
	pkts := videoPackets(v)

	classicChunks, classicSummary := collectReplay(t, writeClassicFile(t, pkts), fastConfig(v))
	ngChunks, ngSummary := collectReplay(t, writeNgFile(t, pkts), fastConfig(v))

	require.NotEmpty(t, classicChunks)
	if diff := cmp.Diff(classicChunks, ngChunks); diff != "" {
		t.Errorf("chunk sequences differ between container formats (-classic +ng):\n%s", diff)
	}

	assert.Equal(t, "pcap", classicSummary.Format)
	assert.Equal(t, "pcapng", ngSummary.Format)
	assert.Equal(t, classicSummary.Packets, ngSummary.Packets)
	assert.Equal(t, classicSummary.Chunks, ngSummary.Chunks)
	assert.Equal(t, classicSummary.Frames, ngSummary.Frames)
}

func TestReplaySummaryCounts(t *testing.T) {
	t.Parallel()

	v := video.Nichia
	pkts := videoPackets(v)
	chunks, summary := collectReplay(t, writeClassicFile(t, pkts), fastConfig(v))

	wantChunks := v.ActiveHeight / ethframe.LinesPerChunk
	assert.Equal(t, len(pkts), summary.Packets)
	assert.Equal(t, wantChunks, summary.Matches, "half the traffic is foreign")
	assert.Equal(t, wantChunks, summary.Chunks)
	assert.Equal(t, 1, summary.Frames, "exactly one end-of-frame chunk")
	assert.Len(t, chunks, wantChunks)
	assert.NotEmpty(t, summary.SessionID)
	assert.Contains(t, summary.String(), summary.SessionID)

	// Chunks arrive in capture order with ascending line numbers.
	for i := 1; i < len(chunks); i++ {
		assert.Greater(t, chunks[i].LineNumber, chunks[i-1].LineNumber)
	}
	assert.True(t, chunks[len(chunks)-1].EndOfFrame)
}

func TestReplayTiming(t *testing.T) {
	t.Parallel()

	v := video.Nichia
	payload := make([]byte, v.Width*ethframe.LinesPerChunk)
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	t.Run("delta is honoured at real-time speed", func(t *testing.T) {
		t.Parallel()
		pkts := []testPacket{
			{ts: base, data: ethframe.Encode(0, false, 1, 1, 0, payload)},
			{ts: base.Add(120 * time.Millisecond), data: ethframe.Encode(0, true, 5, 1, 1, payload)},
		}
		path := writeClassicFile(t, pkts)

		start := time.Now()
		_, summary := collectReplay(t, path, Config{Variant: v, SpeedMultiplier: 1})
		elapsed := time.Since(start)

		assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond, "second packet must wait ~delta")
		assert.Equal(t, 2, summary.Chunks)
	})

	t.Run("long gaps are clamped to MaxWait", func(t *testing.T) {
		t.Parallel()
		pkts := []testPacket{
			{ts: base, data: ethframe.Encode(0, false, 1, 1, 0, payload)},
			{ts: base.Add(30 * time.Second), data: ethframe.Encode(0, true, 5, 1, 1, payload)},
		}
		path := writeClassicFile(t, pkts)

		start := time.Now()
		_, summary := collectReplay(t, path, Config{Variant: v, SpeedMultiplier: 1, MaxWait: 150 * time.Millisecond})
		elapsed := time.Since(start)

		assert.Less(t, elapsed, 2*time.Second, "30s recorded gap must not stall replay")
		assert.Equal(t, 2, summary.Chunks)
	})

	t.Run("sub-threshold deltas are not scheduled", func(t *testing.T) {
		t.Parallel()
		var pkts []testPacket
		for i := 0; i < 50; i++ {
			pkts = append(pkts, testPacket{
				ts:   base.Add(time.Duration(i) * 200 * time.Microsecond),
				data: ethframe.Encode(0, false, 1, 1, uint16(i), payload),
			})
		}
		path := writeClassicFile(t, pkts)

		start := time.Now()
		_, summary := collectReplay(t, path, Config{Variant: v, SpeedMultiplier: 1})
		elapsed := time.Since(start)

		assert.Less(t, elapsed, time.Second)
		assert.Equal(t, 50, summary.Chunks)
	})
}

func TestReplayCancellation(t *testing.T) {
	t.Parallel()

	v := video.Nichia
	payload := make([]byte, v.Width*ethframe.LinesPerChunk)
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	var pkts []testPacket
	for i := 0; i < 10; i++ {
		pkts = append(pkts, testPacket{
			ts:   base.Add(time.Duration(i) * 500 * time.Millisecond),
			data: ethframe.Encode(0, false, 1, 1, uint16(i), payload),
		})
	}
	path := writeClassicFile(t, pkts)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(80*time.Millisecond, cancel)

	out := make(chan video.LineChunk, 64)
	summary, err := Replay(ctx, path, Config{Variant: v, SpeedMultiplier: 1}, out)

	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, summary.Packets, len(pkts), "cancellation must stop the replay early")
}

func TestReplayPause(t *testing.T) {
	t.Parallel()

	v := video.Nichia
	pkts := videoPackets(v)
	path := writeClassicFile(t, pkts)

	gate := NewGate()
	gate.Pause()

	cfg := fastConfig(v)
	cfg.Gate = gate

	done := make(chan *Summary, 1)
	out := make(chan video.LineChunk, 1024)
	go func() {
		summary, err := Replay(context.Background(), path, cfg, out)
		assert.NoError(t, err)
		done <- summary
	}()

	select {
	case <-done:
		t.Fatal("replay finished while paused")
	case <-time.After(150 * time.Millisecond):
	}

	gate.Resume()
	select {
	case summary := <-done:
		assert.Equal(t, len(pkts), summary.Packets)
	case <-time.After(5 * time.Second):
		t.Fatal("replay did not finish after resume")
	}
}

func TestReplayFileErrors(t *testing.T) {
	t.Parallel()

	v := video.Nichia

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		out := make(chan video.LineChunk, 1)
		_, err := Replay(context.Background(), filepath.Join(t.TempDir(), "absent.pcap"), fastConfig(v), out)
		require.Error(t, err)
	})

	t.Run("unrecognised magic", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "bogus.pcap")
		garbage := make([]byte, 64)
		for i := range garbage {
			garbage[i] = byte(i * 7)
		}
		require.NoError(t, os.WriteFile(path, garbage, 0o644))

		out := make(chan video.LineChunk, 1)
		_, err := Replay(context.Background(), path, fastConfig(v), out)
		require.ErrorIs(t, err, ErrUnknownFormat)
	})
}

// ngBlock frames a hand-built pcapng block body with its type and the
// leading/trailing total-length fields.
func ngBlock(blockType uint32, body []byte) []byte {
	for len(body)%4 != 0 {
		body = append(body, 0)
	}
	total := uint32(blockOverhead + len(body))
	out := binary.LittleEndian.AppendUint32(nil, blockType)
	out = binary.LittleEndian.AppendUint32(out, total)
	out = append(out, body...)
	return binary.LittleEndian.AppendUint32(out, total)
}

func ngSectionHeader() []byte {
	body := binary.LittleEndian.AppendUint32(nil, byteOrderMagic)
	body = binary.LittleEndian.AppendUint16(body, 1) // major
	body = binary.LittleEndian.AppendUint16(body, 0) // minor
	body = binary.LittleEndian.AppendUint64(body, ^uint64(0))
	return ngBlock(blockTypeSHB, body)
}

// ngInterfaceDescription builds an IDB; tsResol < 0 omits the option.
func ngInterfaceDescription(link uint16, snapLen uint32, tsResol int) []byte {
	body := binary.LittleEndian.AppendUint16(nil, link)
	body = binary.LittleEndian.AppendUint16(body, 0)
	body = binary.LittleEndian.AppendUint32(body, snapLen)
	if tsResol >= 0 {
		body = binary.LittleEndian.AppendUint16(body, optTsResol)
		body = binary.LittleEndian.AppendUint16(body, 1)
		body = append(body, byte(tsResol), 0, 0, 0)
	}
	body = binary.LittleEndian.AppendUint16(body, optEndOfOpt)
	body = binary.LittleEndian.AppendUint16(body, 0)
	return ngBlock(blockTypeIDB, body)
}

func ngEnhancedPacket(ticks uint64, data []byte) []byte {
	body := binary.LittleEndian.AppendUint32(nil, 0) // interface 0
	body = binary.LittleEndian.AppendUint32(body, uint32(ticks>>32))
	body = binary.LittleEndian.AppendUint32(body, uint32(ticks))
	body = binary.LittleEndian.AppendUint32(body, uint32(len(data)))
	body = binary.LittleEndian.AppendUint32(body, uint32(len(data)))
	body = append(body, data...)
	return ngBlock(blockTypeEPB, body)
}

func ngSimplePacket(data []byte) []byte {
	body := binary.LittleEndian.AppendUint32(nil, uint32(len(data)))
	body = append(body, data...)
	return ngBlock(blockTypeSPB, body)
}

func TestNgReaderHandWrittenBlocks(t *testing.T) {
	t.Parallel()

	v := video.Nichia
	payload := make([]byte, v.Width*ethframe.LinesPerChunk)
	pkt1 := ethframe.Encode(0, false, 1, 7, 0, payload)
	pkt2 := ethframe.Encode(0, true, 61, 7, 1, payload)

	t.Run("unknown blocks and simple packets", func(t *testing.T) {
		t.Parallel()
		var file []byte
		file = append(file, ngSectionHeader()...)
		file = append(file, ngInterfaceDescription(linkTypeEthernet, 65536, -1)...)
		file = append(file, ngBlock(0x0000BAD0, []byte{1, 2, 3, 4, 5, 6, 7, 8})...) // skipped
		file = append(file, ngEnhancedPacket(1_000_000, pkt1)...)
		file = append(file, ngSimplePacket(pkt2)...)

		path := filepath.Join(t.TempDir(), "hand.pcapng")
		require.NoError(t, os.WriteFile(path, file, 0o644))

		chunks, summary := collectReplay(t, path, fastConfig(v))
		require.Len(t, chunks, 2)
		assert.Equal(t, 1, chunks[0].LineNumber)
		assert.Equal(t, 61, chunks[1].LineNumber)
		assert.Equal(t, 2, summary.Packets, "unknown block does not count as a packet")
		assert.Equal(t, 1, summary.Frames)
	})

	t.Run("power-of-ten nanosecond resolution", func(t *testing.T) {
		t.Parallel()
		var file []byte
		file = append(file, ngSectionHeader()...)
		file = append(file, ngInterfaceDescription(linkTypeEthernet, 65536, 9)...) // 10^-9
		file = append(file, ngEnhancedPacket(1_000_000_000, pkt1)...)              // t=1s
		file = append(file, ngEnhancedPacket(1_050_000_000, pkt2)...)              // +50ms

		path := filepath.Join(t.TempDir(), "nanores.pcapng")
		require.NoError(t, os.WriteFile(path, file, 0o644))

		start := time.Now()
		chunks, _ := collectReplay(t, path, Config{Variant: v, SpeedMultiplier: 1})
		elapsed := time.Since(start)

		require.Len(t, chunks, 2)
		assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond, "nanosecond ticks must scale to the 50ms gap")
	})

	t.Run("power-of-two resolution", func(t *testing.T) {
		t.Parallel()
		var file []byte
		file = append(file, ngSectionHeader()...)
		file = append(file, ngInterfaceDescription(linkTypeEthernet, 65536, 0x80|20)...) // 2^-20
		file = append(file, ngEnhancedPacket(1<<20, pkt1)...)                            // t=1s
		file = append(file, ngEnhancedPacket(1<<20|1<<19, pkt2)...)                      // +0.5s

		path := filepath.Join(t.TempDir(), "pow2res.pcapng")
		require.NoError(t, os.WriteFile(path, file, 0o644))

		start := time.Now()
		chunks, _ := collectReplay(t, path, Config{Variant: v, SpeedMultiplier: 1, MaxWait: 200 * time.Millisecond})
		elapsed := time.Since(start)

		require.Len(t, chunks, 2)
		assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond, "pow-2 ticks must scale into a real wait")
	})

	t.Run("trailing length mismatch is recovered", func(t *testing.T) {
		t.Parallel()
		bad := ngBlock(0x0000BAD0, []byte{1, 2, 3, 4})
		binary.LittleEndian.PutUint32(bad[len(bad)-4:], 0xFFFF) // corrupt trailer only

		var file []byte
		file = append(file, ngSectionHeader()...)
		file = append(file, ngInterfaceDescription(linkTypeEthernet, 65536, -1)...)
		file = append(file, bad...)
		file = append(file, ngEnhancedPacket(1_000_000, pkt2)...)

		path := filepath.Join(t.TempDir(), "trailer.pcapng")
		require.NoError(t, os.WriteFile(path, file, 0o644))

		chunks, _ := collectReplay(t, path, fastConfig(v))
		require.Len(t, chunks, 1, "replay continues past the corrupt trailer")
	})
}

func TestClassicNanosecondMagic(t *testing.T) {
	t.Parallel()

	v := video.Nichia
	payload := make([]byte, v.Width*ethframe.LinesPerChunk)
	pkt1 := ethframe.Encode(0, false, 1, 3, 0, payload)
	pkt2 := ethframe.Encode(0, true, 61, 3, 1, payload)

	// Little-endian nanosecond-resolution classic file, written by hand.
	var file []byte
	file = binary.LittleEndian.AppendUint32(file, classicMagicNanos)
	file = binary.LittleEndian.AppendUint16(file, 2) // version 2.4
	file = binary.LittleEndian.AppendUint16(file, 4)
	file = binary.LittleEndian.AppendUint32(file, 0) // thiszone
	file = binary.LittleEndian.AppendUint32(file, 0) // sigfigs
	file = binary.LittleEndian.AppendUint32(file, 65536)
	file = binary.LittleEndian.AppendUint32(file, linkTypeEthernet)

	appendRecord := func(sec, nanos uint32, data []byte) {
		file = binary.LittleEndian.AppendUint32(file, sec)
		file = binary.LittleEndian.AppendUint32(file, nanos)
		file = binary.LittleEndian.AppendUint32(file, uint32(len(data)))
		file = binary.LittleEndian.AppendUint32(file, uint32(len(data)))
		file = append(file, data...)
	}
	appendRecord(10, 0, pkt1)
	appendRecord(10, 60_000_000, pkt2) // +60ms in nanoseconds

	path := filepath.Join(t.TempDir(), "nanos.pcap")
	require.NoError(t, os.WriteFile(path, file, 0o644))

	start := time.Now()
	chunks, summary := collectReplay(t, path, Config{Variant: v, SpeedMultiplier: 1})
	elapsed := time.Since(start)

	require.Len(t, chunks, 2)
	assert.Equal(t, "pcap", summary.Format)
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond, "nanosecond sub-seconds must convert to a ~60ms gap")
}

func TestGate(t *testing.T) {
	t.Parallel()

	g := NewGate()
	require.NoError(t, g.Wait(context.Background()), "a fresh gate is open")

	g.Pause()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, g.Wait(ctx), context.DeadlineExceeded)

	g.Resume()
	require.NoError(t, g.Wait(context.Background()))

	// Idempotent transitions.
	g.Resume()
	g.Pause()
	g.Pause()
	g.Resume()
	require.NoError(t, g.Wait(context.Background()))
}
