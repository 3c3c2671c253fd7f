package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/astrogo/fitsio"

	"github.com/smazurov/hdrnode/internal/acquisition"
	"github.com/smazurov/hdrnode/internal/camera"
)

// FITSSink writes every frame as an 8-bit intensity image to
// <dir>/hdr_<cycle>_<index>.fits.
type FITSSink struct {
	dir string
}

// NewFITSSink creates dir if needed.
func NewFITSSink(dir string) (*FITSSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create fits dir: %w", err)
	}
	return &FITSSink{dir: dir}, nil
}

// FITSName returns the file name of one frame.
func FITSName(cycle uint64, index int) string {
	return RawName(cycle, index) + ".fits"
}

// Name implements Sink.
func (s *FITSSink) Name() string { return "fits" }

// Write implements Sink.
func (s *FITSSink) Write(ctx context.Context, c Capture) error {
	for i := range c.Frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.writeFrame(c, i); err != nil {
			return err
		}
	}
	return nil
}

func (s *FITSSink) writeFrame(c Capture, index int) error {
	path := filepath.Join(s.dir, FITSName(c.Cycle, index))
	f, err := os.Create(path + ".tmp")
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteFITS(f, c, index); err != nil {
		f.Close()
		os.Remove(path + ".tmp")
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(path+".tmp", path)
}

// Close implements Sink.
func (s *FITSSink) Close() error { return nil }

// FrameBank returns the bank that frame index of an HDR burst was exposed
// with, or -1 for captures that do not cycle banks. A burst of n frames reads
// banks with stride 4/n.
func FrameBank(c Capture, index int) int {
	if c.Kind != acquisition.KindHDR || len(c.Frames) == 0 {
		return -1
	}
	return index * (camera.NumBanks / len(c.Frames))
}

// HeaderCards describes one frame of a capture in FITS header form.
func HeaderCards(c Capture, index int) []fitsio.Card {
	fr := c.Frames[index]
	cards := []fitsio.Card{
		{Name: "CAMERA", Value: c.CameraID, Comment: "camera id"},
		{Name: "RUNID", Value: c.RunID, Comment: "session run id"},
		{Name: "CYCLE", Value: int(c.Cycle), Comment: "control cycle"},
		{Name: "FRAME", Value: index, Comment: "frame index in capture"},
		{Name: "SEQUENCE", Value: int(fr.Sequence), Comment: "device frame sequence"},
		{Name: "KIND", Value: c.Kind, Comment: "acquisition kind"},
		{Name: "UNDER", Value: c.Under, Comment: "under exposure [s]"},
		{Name: "OVER", Value: c.Over, Comment: "over exposure [s]"},
		{Name: "DATE-OBS", Value: fr.Timestamp.UTC().Format("2006-01-02T15:04:05.000"), Comment: "frame time"},
	}

	bank := FrameBank(c, index)
	if bank >= 0 {
		cards = append(cards, fitsio.Card{Name: "BANK", Value: bank, Comment: "bracket bank"})
	}
	if code, ok := fr.Metadata.ShutterCode(); ok {
		cards = append(cards, fitsio.Card{Name: "SHUTTER", Value: int(code), Comment: "embedded shutter code"})
	} else if bank >= 0 {
		cards = append(cards, fitsio.Card{Name: "SHUTTER", Value: int(c.Bracket[bank]), Comment: "programmed shutter code"})
	}
	return cards
}

// WriteFITS streams frame index of c to w as a single image HDU.
func WriteFITS(w io.Writer, c Capture, index int) error {
	if index < 0 || index >= len(c.Frames) {
		return fmt.Errorf("frame %d of %d", index, len(c.Frames))
	}
	fr := c.Frames[index]

	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()

	im := fitsio.NewImage(8, []int{fr.Width, fr.Height})
	defer im.Close()
	if err := im.Header().Append(HeaderCards(c, index)...); err != nil {
		return err
	}
	if err := im.Write(fr.Gray()); err != nil {
		return err
	}
	return fits.Write(im)
}
