package progress

import (
	"context"
	"fmt"
	"io"
	"time"

	pb "github.com/schollz/progressbar/v3"
)

type sink struct {
	w io.Writer
}

type sinkKey struct{}

// Open attaches a progress output to the context. Operations deeper
// in the call tree render bars only when one is attached.
func Open(ctx context.Context, w io.Writer) context.Context {
	return context.WithValue(ctx, sinkKey{}, sink{w})
}

type Progress struct {
	bar    *pb.ProgressBar
	prefix string
}

func (t *Progress) Add(cnt int64) {
	if t.bar == nil {
		return
	}

	t.bar.Add64(cnt)
}

func (t *Progress) Tick() {
	t.Add(1)
}

func (t *Progress) Close() {
	if t.bar == nil {
		return
	}

	t.bar.Close()
}

func (t *Progress) On(step string) {
	if t.bar == nil {
		return
	}

	t.bar.Describe(t.prefix + ": " + step)
}

func options(w io.Writer, desc string) []pb.Option {
	return []pb.Option{
		pb.OptionSetDescription(desc),
		pb.OptionSetWriter(w),
		pb.OptionSetWidth(20),
		pb.OptionThrottle(65 * time.Millisecond),
		pb.OptionSetTheme(
			pb.Theme{Saucer: "=", SaucerPadding: " ", BarStart: "[", BarEnd: "]"},
		),
		pb.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
		pb.OptionSpinnerType(14),
		pb.OptionFullWidth(),
	}
}

// Count renders a discrete counter over total items, or a no-op
// Progress when the context has no output attached.
func Count(ctx context.Context, total int64, desc string) *Progress {
	h := ctx.Value(sinkKey{})
	if h == nil {
		return &Progress{}
	}

	val := h.(sink)

	opts := append(options(val.w, desc),
		pb.OptionShowCount(),
		pb.OptionShowIts(),
	)

	bar := pb.NewOptions64(total, opts...)
	bar.RenderBlank()

	return &Progress{prefix: desc, bar: bar}
}

// Bytes renders a byte-volume bar, for archive packing and similar
// streaming work.
func Bytes(ctx context.Context, total int64, desc string) *Progress {
	h := ctx.Value(sinkKey{})
	if h == nil {
		return &Progress{}
	}

	val := h.(sink)

	opts := append(options(val.w, desc),
		pb.OptionShowBytes(true),
	)

	bar := pb.NewOptions64(total, opts...)
	bar.RenderBlank()

	return &Progress{prefix: desc, bar: bar}
}
