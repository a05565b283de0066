package session

import (
	"bytes"
	"encoding/base64"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zsiec/nalcore/internal/accessunit"
	"github.com/zsiec/nalcore/internal/media"
	"github.com/zsiec/nalcore/internal/nalu"
)

var (
	// 1280x720 High profile, VUI present.
	sps720p = []byte{
		0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
		0x05, 0xbb, 0xff, 0x00, 0x03, 0x00, 0x04, 0x6a,
		0x02, 0x02, 0x02, 0x80, 0x00, 0x01, 0xf4, 0x80,
		0x00, 0x5d, 0xc0, 0x07, 0x8c, 0x18, 0xcb,
	}
	pps     = []byte{0x68, 0xeb, 0xe3, 0xcb, 0x22, 0xc0}
	idr     = []byte{0x65, 0x88, 0x84, 0x00, 0x33, 0xff}
	slice   = []byte{0x41, 0x9a, 0x02, 0x0c, 0x40}
	hevcVPS = []byte{0x40, 0x01, 0x0c, 0x01, 0xff, 0xff, 0x01, 0x60}
	hevcPPS = []byte{0x44, 0x01, 0xc1, 0x72, 0xb4, 0x62, 0x40}
	hevcIDR = []byte{0x26, 0x01, 0xaf, 0x06, 0xb8}
	// 1280x720 Main profile.
	hevcSPS = []byte{
		0x42, 0x01, 0x01, 0x01, 0x60, 0x00, 0x00, 0x03,
		0x00, 0x90, 0x00, 0x00, 0x03, 0x00, 0x00, 0x03,
		0x00, 0x99, 0xa0, 0x02, 0x80, 0x80, 0x2d, 0x1f,
		0xe5, 0x97, 0xb9, 0x32, 0xb2,
	}
)

func annexB(units ...[]byte) []byte {
	var buf []byte
	for _, u := range units {
		buf = append(buf, 0x00, 0x00, 0x00, 0x01)
		buf = append(buf, u...)
	}
	return buf
}

type recorder struct {
	mu  sync.Mutex
	aus []media.AccessUnit
}

func (r *recorder) Feed(au media.AccessUnit) {
	r.mu.Lock()
	r.aus = append(r.aus, au)
	r.mu.Unlock()
}

func (r *recorder) all() []media.AccessUnit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]media.AccessUnit(nil), r.aus...)
}

func TestSessionRejectsUnsupportedCodec(t *testing.T) {
	t.Parallel()

	s := New("cam1", &recorder{}, nil)
	require.False(t, s.OnNewSession("mpeg4-generic"))
	require.Equal(t, nalu.CodecUnknown, s.Codec())
}

func TestSessionDefaultsBeforeAnnouncement(t *testing.T) {
	t.Parallel()

	s := New("cam1", &recorder{}, nil, accessunit.WithDefaultResolution(640, 480))
	require.Equal(t, 640, s.Width())
	require.Equal(t, 480, s.Height())

	require.True(t, s.OnNewSession("H264"))
	require.Equal(t, 640, s.Width())
	require.Equal(t, 480, s.Height())
}

func TestSessionDropsDataBeforeAnnouncement(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	s := New("cam1", rec, nil)
	s.OnData(annexB(sps720p, pps, idr), 0)

	require.Empty(t, rec.all())
	st := s.Stats()
	require.EqualValues(t, 1, st.Dropped)
	require.EqualValues(t, 1, st.ReadCount)
}

func TestSessionH264(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	s := New("cam1", rec, nil)
	require.True(t, s.OnNewSession("h264"))
	require.Equal(t, nalu.H264, s.Codec())

	s.OnData(annexB(sps720p, pps, idr), 3000)
	s.OnData(annexB(slice), 6000)

	require.Equal(t, 1280, s.Width())
	require.Equal(t, 720, s.Height())

	aus := rec.all()
	require.Len(t, aus, 2)
	require.True(t, aus[0].IsKeyframe)
	require.Equal(t, annexB(sps720p, pps, idr), aus[0].Data)
	require.EqualValues(t, 3000, aus[0].PTS)
	require.False(t, aus[1].IsKeyframe)
	require.Equal(t, annexB(slice), aus[1].Data)

	st := s.Stats()
	require.Equal(t, "h264", st.Codec)
	require.Equal(t, "avc1.64001F", st.Params.CodecString)
	require.EqualValues(t, 2, st.Reconstructor.AccessUnits)
	require.EqualValues(t, 1, st.Reconstructor.Keyframes)
}

func TestSessionReannouncementResetsConfig(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	s := New("cam1", rec, nil)
	require.True(t, s.OnNewSession("h264"))
	s.OnData(annexB(sps720p, pps), 0)

	require.True(t, s.OnNewSession("h264"))
	s.OnData(annexB(idr), 0)

	aus := rec.all()
	require.Len(t, aus, 1)
	require.Equal(t, annexB(idr), aus[0].Data)
}

func TestSessionOutOfBandSprop(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	s := New("cam1", rec, nil)

	sprop := base64.StdEncoding.EncodeToString(sps720p) + "," + base64.StdEncoding.EncodeToString(pps)
	require.ErrorIs(t, s.SetOutOfBandParameterSets(sprop), ErrNoSession)

	require.True(t, s.OnNewSession("h264"))
	require.NoError(t, s.SetOutOfBandParameterSets(sprop))
	require.Equal(t, 1280, s.Width())
	require.Equal(t, 720, s.Height())

	s.OnData(annexB(idr), 0)
	aus := rec.all()
	require.Len(t, aus, 1)
	require.Equal(t, annexB(sps720p, pps, idr), aus[0].Data)
}

func TestSessionOutOfBandFmtpH265(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	s := New("cam2", rec, nil)
	require.True(t, s.OnNewSession("hevc"))

	fmtp := "a=fmtp:96 sprop-vps=" + base64.StdEncoding.EncodeToString(hevcVPS) +
		";sprop-sps=" + base64.StdEncoding.EncodeToString(hevcSPS) +
		";sprop-pps=" + base64.StdEncoding.EncodeToString(hevcPPS)
	require.NoError(t, s.SetFmtp(fmtp))
	require.Equal(t, 1280, s.Width())
	require.Equal(t, 720, s.Height())

	s.OnData(annexB(hevcIDR), 0)
	aus := rec.all()
	require.Len(t, aus, 1)
	require.True(t, aus[0].IsKeyframe)
	require.True(t, bytes.HasPrefix(aus[0].Data, annexB(hevcVPS, hevcSPS, hevcPPS)))
}

func TestSessionOutOfBandRejectsNonParameterSets(t *testing.T) {
	t.Parallel()

	s := New("cam1", &recorder{}, nil)
	require.True(t, s.OnNewSession("h264"))
	require.Error(t, s.SetOutOfBandParameterSets(base64.StdEncoding.EncodeToString(idr)))
}

func TestSessionClose(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	s := New("cam1", rec, nil)
	require.True(t, s.OnNewSession("h264"))
	s.SetRemoteAddr("10.0.0.7:4000")

	s.Close()
	s.Close()

	select {
	case <-s.Done():
	default:
		t.Fatal("Done should be closed")
	}

	s.OnData(annexB(sps720p, pps, idr), 0)
	require.Empty(t, rec.all())
	st := s.Stats()
	require.Equal(t, "10.0.0.7:4000", st.RemoteAddr)
	require.EqualValues(t, 1, st.Dropped)
}

func TestSessionConcurrentDataAndQueries(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	s := New("cam1", rec, nil)
	require.True(t, s.OnNewSession("h264"))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.OnData(annexB(sps720p, pps, idr), int64(j))
				_ = s.Width()
				_ = s.Stats()
			}
		}()
	}
	wg.Wait()

	require.Len(t, rec.all(), 200)
	require.EqualValues(t, 200, s.Stats().ReadCount)
}
