package filereader

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/camhal/internal/camera"
	"github.com/lanikai/camhal/internal/props"
	"github.com/lanikai/camhal/internal/vtime"
)

// writeFrames writes n 4x3 grey PNGs named fmt.Sprintf(pattern, i), each
// filled with the value i.
func writeFrames(t *testing.T, dir, pattern string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		writeFrame(t, filepath.Join(dir, fmt.Sprintf(pattern, i)), byte(i))
	}
}

func writeFrame(t *testing.T, path string, value byte) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 4, 3))
	for j := range img.Pix {
		img.Pix[j] = value
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func open(t *testing.T, dir string, kv map[string]string) (*Driver, error) {
	t.Helper()
	cfg, err := ParseConfig(props.FromMap(kv), dir)
	if err != nil {
		return nil, err
	}
	return New(cfg, nil)
}

func TestSequentialThenExhausted(t *testing.T) {
	dir := t.TempDir()
	writeFrames(t, dir, "left_%03d.png", 5)
	writeFrames(t, dir, "right_%03d.png", 5)

	d, err := open(t, dir, map[string]string{
		"NumChannels": "2",
		"lfile":       "left.*png",
		"rfile":       "right.*png",
		"BufferSize":  "2",
	})
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, camera.Running, d.State())
	assert.Equal(t, 2, d.NumChannels())
	assert.Equal(t, 4, d.Width(1))
	assert.Equal(t, 3, d.Height(0))
	assert.Equal(t, 0, d.Width(2))

	for i := 0; i < 5; i++ {
		s, ok := d.Capture()
		require.True(t, ok, "set %d", i)
		assert.Equal(t, i, s.Seq)
		assert.Equal(t, i, s.Count)
		require.Len(t, s.Images, 2)
		for ch, img := range s.Images {
			assert.Equal(t, byte(i), img.Data[0], "channel %d", ch)
		}
		assert.Equal(t, float64(i), s.DeviceTime)
	}

	s, ok := d.Capture()
	assert.False(t, ok)
	assert.Nil(t, s)

	pb, ok := d.Playback()
	require.True(t, ok)
	assert.Equal(t, 5, pb.NumFrames())
	assert.Equal(t, 5, pb.Cursor())
	assert.False(t, pb.Looping())
	assert.NoError(t, pb.Err())

	_, ok = d.Device()
	assert.False(t, ok)
}

func TestExhaustedReturnsImmediately(t *testing.T) {
	dir := t.TempDir()
	writeFrames(t, dir, "f%d.png", 1)

	d, err := open(t, dir, map[string]string{"Channels": "[f.*png]"})
	require.NoError(t, err)
	defer d.Close()

	_, ok := d.Capture()
	require.True(t, ok)

	done := make(chan bool)
	go func() {
		_, ok := d.Capture()
		done <- ok
	}()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Capture blocked on an exhausted source")
	}
}

func TestLoopWrapsToStartFrame(t *testing.T) {
	dir := t.TempDir()
	writeFrames(t, dir, "f%d.png", 3)

	d, err := open(t, dir, map[string]string{
		"NumChannels": "1",
		"Channel-0":   "f.*png",
		"StartFrame":  "1",
		"Loop":        "",
		"BufferSize":  "2",
	})
	require.NoError(t, err)
	defer d.Close()

	var (
		seqs  []int
		times []float64
	)
	for i := 0; i < 6; i++ {
		s, ok := d.Capture()
		require.True(t, ok)
		seqs = append(seqs, s.Seq)
		times = append(times, s.DeviceTime)
	}
	assert.Equal(t, []int{1, 2, 1, 2, 1, 2}, seqs)

	// Device time keeps counting through each wrap.
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, times)
}

func TestConfigErrors(t *testing.T) {
	dir := t.TempDir()
	writeFrames(t, dir, "left%d.png", 3)
	writeFrames(t, dir, "right%d.png", 2)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "times.txt"), []byte("1\n2\n"), 0644))

	cases := map[string]map[string]string{
		"no channels":    {},
		"missing regex":  {"NumChannels": "2", "Channel-0": "left.*png"},
		"bad number":     {"NumChannels": "two"},
		"no matches":     {"NumChannels": "1", "Channel-0": "nothing.*png"},
		"uneven counts":  {"Channels": "[left.*png,right.*png]"},
		"start too late": {"Channels": "[left.*png]", "StartFrame": "3"},
		"zero buffer":    {"Channels": "[left.*png]", "BufferSize": "0"},
		"bad timekeeper": {"Channels": "[left.*png]", "TimeKeeper": "sundial"},
		"short times":    {"Channels": "[left.*png]", "TimestampFile": "times.txt"},
		"count mismatch": {"Channels": "[left.*png]", "NumChannels": "2"},
		"missing subdir": {"Channels": "[nope/left.*png]"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			d, err := open(t, dir, kv)
			assert.Nil(t, d)
			assert.True(t, camera.IsConfigError(err), "%v", err)
		})
	}
}

func TestCloseUnblocksProducer(t *testing.T) {
	dir := t.TempDir()
	writeFrames(t, dir, "f%d.png", 2)

	d, err := open(t, dir, map[string]string{
		"Channels":   "[f.*png]",
		"Loop":       "true",
		"BufferSize": "1",
	})
	require.NoError(t, err)
	require.True(t, d.loop.Running())

	// Let the producer block on the full buffer.
	time.Sleep(20 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		d.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}

	assert.False(t, d.loop.Running())
	assert.Equal(t, camera.Destroyed, d.State())
	_, ok := d.Capture()
	assert.False(t, ok)
	assert.NoError(t, d.Close())
}

func TestCloseWakesWaitingConsumer(t *testing.T) {
	dir := t.TempDir()
	writeFrames(t, dir, "a%d.png", 1)
	writeFrames(t, dir, "b%d.png", 1)

	// b's first set is earlier than a's second, so a second capture from a
	// waits on b until b is closed.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("10\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("5\n"), 0644))

	clock := vtime.New(vtime.Options{})
	defer clock.Close()

	cfgA, err := ParseConfig(props.FromMap(map[string]string{"Channels": "[a.*png]", "TimestampFile": "a.txt", "name": "a"}), dir)
	require.NoError(t, err)
	a, err := New(cfgA, clock)
	require.NoError(t, err)
	defer a.Close()

	cfgB, err := ParseConfig(props.FromMap(map[string]string{"Channels": "[b.*png]", "TimestampFile": "b.txt", "name": "b"}), dir)
	require.NoError(t, err)
	b, err := New(cfgB, clock)
	require.NoError(t, err)

	got := make(chan float64)
	go func() {
		s, ok := a.Capture()
		if ok {
			got <- s.DeviceTime
		}
		close(got)
	}()

	select {
	case <-got:
		t.Fatal("a released before b's earlier set")
	case <-time.After(50 * time.Millisecond):
	}

	b.Close()
	select {
	case ts := <-got:
		assert.Equal(t, 10.0, ts)
	case <-time.After(2 * time.Second):
		t.Fatal("a still waiting after b closed")
	}
}

func TestLoopingSourcesOfUnequalLength(t *testing.T) {
	dir := t.TempDir()
	writeFrames(t, dir, "a%d.png", 3)
	writeFrames(t, dir, "b%d.png", 6)

	clock := vtime.New(vtime.Options{})
	defer clock.Close()

	drivers := make(map[string]*Driver)
	for _, name := range []string{"a", "b"} {
		cfg, err := ParseConfig(props.FromMap(map[string]string{
			"Channels":   "[" + name + ".*png]",
			"Loop":       "true",
			"BufferSize": "2",
			"name":       name,
		}), dir)
		require.NoError(t, err)
		d, err := New(cfg, clock)
		require.NoError(t, err)
		defer d.Close()
		drivers[name] = d
	}

	const n = 10
	var (
		mu    sync.Mutex
		times = make(map[string][]float64)
		wg    sync.WaitGroup
	)
	for name, d := range drivers {
		wg.Add(1)
		go func(name string, d *Driver) {
			defer wg.Done()
			defer d.Close()
			for i := 0; i < n; i++ {
				s, ok := d.Capture()
				if !ok {
					return
				}
				mu.Lock()
				times[name] = append(times[name], s.DeviceTime)
				mu.Unlock()
			}
		}(name, d)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		clock.Close()
		<-done
		t.Fatalf("sources stalled: %v", times)
	}

	want := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	assert.Equal(t, want, times["a"])
	assert.Equal(t, want, times["b"])
}

func TestConcurrentCapture(t *testing.T) {
	dir := t.TempDir()
	const n = 40
	writeFrames(t, dir, "f%03d.png", n)

	d, err := open(t, dir, map[string]string{"Channels": "[f.*png]", "BufferSize": "3"})
	require.NoError(t, err)
	defer d.Close()

	var (
		mu   sync.Mutex
		seqs []int
		wg   sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				s, ok := d.Capture()
				if !ok {
					return
				}
				mu.Lock()
				seqs = append(seqs, s.Seq)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seqs, n)
	sort.Ints(seqs)
	for i, seq := range seqs {
		assert.Equal(t, i, seq)
	}
}

func TestTimestamps(t *testing.T) {
	t.Run("file name", func(t *testing.T) {
		dir := t.TempDir()
		writeFrames(t, dir, "Camera_Left_12345.%d.png", 3)
		d, err := open(t, dir, map[string]string{"Channels": "[Camera.*png]"})
		require.NoError(t, err)
		defer d.Close()

		s, ok := d.Capture()
		require.True(t, ok)
		assert.Equal(t, 12345.0, s.DeviceTime)
		assert.Equal(t, 12345.0, s.Images[0].Timestamp)
	})

	t.Run("frequency", func(t *testing.T) {
		dir := t.TempDir()
		for i, name := range []string{"a", "b", "c"} {
			writeFrame(t, filepath.Join(dir, name+".png"), byte(i))
		}
		d, err := open(t, dir, map[string]string{"Channels": "[.*png]", "TimeKeeper": "10"})
		require.NoError(t, err)
		defer d.Close()

		for i := 0; i < 3; i++ {
			s, ok := d.Capture()
			require.True(t, ok)
			assert.InDelta(t, float64(i)/10, s.DeviceTime, 1e-9)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		dir := t.TempDir()
		writeFrame(t, filepath.Join(dir, "x.png"), 0)
		d, err := open(t, dir, map[string]string{"Channels": "[x.png]"})
		require.NoError(t, err)
		defer d.Close()

		s, ok := d.Capture()
		require.True(t, ok)
		assert.Equal(t, -1.0, s.DeviceTime)
	})

	t.Run("sidecar", func(t *testing.T) {
		dir := t.TempDir()
		writeFrames(t, dir, "f%d.png", 2)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "t.txt"), []byte("# seconds\n7.5\n8.25 extra\n"), 0644))
		d, err := open(t, dir, map[string]string{"Channels": "[f.*png]", "TimestampFile": "t.txt"})
		require.NoError(t, err)
		defer d.Close()

		for _, want := range []float64{7.5, 8.25} {
			s, ok := d.Capture()
			require.True(t, ok)
			assert.Equal(t, want, s.DeviceTime)
		}
	})

	t.Run("system time", func(t *testing.T) {
		dir := t.TempDir()
		writeFrames(t, dir, "f%d.png", 1)
		before := float64(time.Now().UnixNano()) / 1e9
		d, err := open(t, dir, map[string]string{"Channels": "[f.*png]", "TimeKeeper": "systemtime"})
		require.NoError(t, err)
		defer d.Close()

		s, ok := d.Capture()
		require.True(t, ok)
		assert.GreaterOrEqual(t, s.DeviceTime, before)
	})

	t.Run("system time stamps decode time across wraps", func(t *testing.T) {
		dir := t.TempDir()
		writeFrames(t, dir, "f%d.png", 2)
		before := float64(time.Now().UnixNano()) / 1e9
		d, err := open(t, dir, map[string]string{
			"Channels":   "[f.*png]",
			"TimeKeeper": "SystemTime",
			"Loop":       "true",
			"BufferSize": "1",
		})
		require.NoError(t, err)
		defer d.Close()

		prev := before
		for i := 0; i < 5; i++ {
			s, ok := d.Capture()
			require.True(t, ok)
			assert.GreaterOrEqual(t, s.DeviceTime, prev)
			assert.LessOrEqual(t, s.DeviceTime, float64(time.Now().UnixNano())/1e9)
			assert.Equal(t, s.Images[0].Timestamp, s.DeviceTime)
			prev = s.DeviceTime
		}
	})
}

func TestGreyscaleAndCache(t *testing.T) {
	dir := t.TempDir()
	writeFrames(t, dir, "f%d.png", 2)

	d, err := open(t, dir, map[string]string{
		"Channels":   "[f.*png]",
		"Loop":       "1",
		"grey":       "",
		"CacheSize":  "4",
		"BufferSize": "1",
	})
	require.NoError(t, err)
	defer d.Close()

	for i := 0; i < 6; i++ {
		s, ok := d.Capture()
		require.True(t, ok)
		assert.Equal(t, byte(i%2), s.Images[0].Data[0])
	}
	hits, lookups := d.CacheStats()
	assert.Greater(t, hits, 0)
	assert.Greater(t, lookups, hits)
}

func TestDecodeFailureEndsStream(t *testing.T) {
	dir := t.TempDir()
	writeFrames(t, dir, "f%d.png", 3)

	d, err := open(t, dir, map[string]string{"Channels": "[f.*png]", "BufferSize": "1"})
	require.NoError(t, err)
	defer d.Close()

	// Corrupt a file the producer has not read yet.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f2.png"), []byte("not an image"), 0644))

	var n int
	for {
		_, ok := d.Capture()
		if !ok {
			break
		}
		n++
	}
	assert.Less(t, n, 3)
	pb, _ := d.Playback()
	assert.Error(t, pb.Err())
}

func TestOpenFromURI(t *testing.T) {
	dir := t.TempDir()
	writeFrames(t, dir, "f%d.png", 2)

	cam, err := camera.Open("filereader:[NumChannels=1,Channel-0=f.*png,BufferSize=1]//" + dir)
	require.NoError(t, err)
	defer cam.Close()

	s, ok := cam.Capture()
	require.True(t, ok)
	assert.Equal(t, 0, s.Seq)
	assert.Equal(t, 1, cam.NumChannels())
}
