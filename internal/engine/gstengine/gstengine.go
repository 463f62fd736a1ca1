// Package gstengine implements the engine contract on GStreamer.
//
// Each engine is one pipeline: filesrc feeding decodebin, whose dynamic
// pads are linked at runtime to a render branch chosen by media kind.
// Video gets a convert/scale/sink chain, images are held as a
// continuous stream with imagefreeze, audio gets a convert/resample
// chain with any embedded cover art discarded into a fakesink. Bus
// messages are polled non-blocking by the owning pool worker and mapped
// to the pipeline-level event set.
package gstengine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"

	"medley/internal/engine"
	"medley/internal/logging"
	"medley/internal/media"
)

var initOnce sync.Once

// Options configures the factory.
type Options struct {
	// VideoSink and AudioSink name the sink element factories;
	// empty selects the auto sinks.
	VideoSink string
	AudioSink string
	// Width and Height, when both positive, constrain the video
	// surface from construction on.
	Width  int
	Height int
	Logger *slog.Logger
}

// Factory builds GStreamer engines.
type Factory struct {
	videoSink string
	audioSink string
	width     int
	height    int
	logger    *slog.Logger
}

// NewFactory initializes GStreamer once and returns a factory.
func NewFactory(opts Options) *Factory {
	initOnce.Do(func() {
		gst.Init(nil)
	})
	videoSink := opts.VideoSink
	if videoSink == "" {
		videoSink = "autovideosink"
	}
	audioSink := opts.AudioSink
	if audioSink == "" {
		audioSink = "autoaudiosink"
	}
	return &Factory{
		videoSink: videoSink,
		audioSink: audioSink,
		width:     opts.Width,
		height:    opts.Height,
		logger:    logging.NewComponentLogger(opts.Logger, "gstengine"),
	}
}

// New constructs a pipeline for path. The pipeline is left in the null
// state; the caller drives it from there.
func (f *Factory) New(path string, kind media.Kind) (engine.Engine, error) {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	source, err := gst.NewElement("filesrc")
	if err != nil {
		return nil, fmt.Errorf("create filesrc: %w", err)
	}
	source.SetProperty("location", path)

	decode, err := gst.NewElement("decodebin")
	if err != nil {
		return nil, fmt.Errorf("create decodebin: %w", err)
	}

	e := &gstEngine{
		pipeline: pipeline,
		logger:   f.logger.With(logging.String(logging.FieldPath, path)),
	}

	var branches [][]*gst.Element
	switch kind {
	case media.KindVideo:
		videoChain, caps, err := f.videoBranch(false)
		if err != nil {
			return nil, err
		}
		audioChain, err := f.audioBranch()
		if err != nil {
			return nil, err
		}
		branches = append(branches, videoChain, audioChain)
		e.capsfilter = caps
	case media.KindImage:
		videoChain, caps, err := f.videoBranch(true)
		if err != nil {
			return nil, err
		}
		discard, err := gst.NewElement("fakesink")
		if err != nil {
			return nil, fmt.Errorf("create fakesink: %w", err)
		}
		branches = append(branches, videoChain, []*gst.Element{discard})
		e.capsfilter = caps
	case media.KindAudio:
		audioChain, err := f.audioBranch()
		if err != nil {
			return nil, err
		}
		// Cover art shows up as a video pad on plenty of audio
		// files; swallow it so the stream still prerolls.
		discard, err := gst.NewElement("fakesink")
		if err != nil {
			return nil, fmt.Errorf("create fakesink: %w", err)
		}
		branches = append(branches, audioChain, []*gst.Element{discard})
	default:
		return nil, fmt.Errorf("unplayable media kind %q", kind)
	}

	elements := []*gst.Element{source, decode}
	for _, branch := range branches {
		elements = append(elements, branch...)
	}
	if err := pipeline.AddMany(elements...); err != nil {
		return nil, fmt.Errorf("assemble pipeline: %w", err)
	}
	if err := gst.ElementLinkMany(source, decode); err != nil {
		return nil, fmt.Errorf("link source to decoder: %w", err)
	}
	for _, branch := range branches {
		if len(branch) < 2 {
			continue
		}
		if err := gst.ElementLinkMany(branch...); err != nil {
			return nil, fmt.Errorf("link render branch: %w", err)
		}
	}
	primary, secondary := branches[0][0], branches[1][0]

	logger := e.logger
	decode.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
		linkDecodePad(logger, srcPad, primary, secondary)
	})

	e.bus = pipeline.GetPipelineBus()
	if f.width > 0 && f.height > 0 {
		if err := e.SetVideoSize(f.width, f.height); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// videoBranch builds convert/scale/capsfilter/sink, with imagefreeze
// inserted after conversion when freeze is set. The first element is
// the branch head decodebin links to; the capsfilter is returned for
// resize hints.
func (f *Factory) videoBranch(freeze bool) ([]*gst.Element, *gst.Element, error) {
	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, nil, fmt.Errorf("create videoconvert: %w", err)
	}
	scale, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, nil, fmt.Errorf("create videoscale: %w", err)
	}
	caps, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, nil, fmt.Errorf("create capsfilter: %w", err)
	}
	sink, err := gst.NewElement(f.videoSink)
	if err != nil {
		return nil, nil, fmt.Errorf("create %s: %w", f.videoSink, err)
	}

	chain := []*gst.Element{convert}
	if freeze {
		still, err := gst.NewElement("imagefreeze")
		if err != nil {
			return nil, nil, fmt.Errorf("create imagefreeze: %w", err)
		}
		chain = append(chain, still)
	}
	chain = append(chain, scale, caps, sink)
	return chain, caps, nil
}

func (f *Factory) audioBranch() ([]*gst.Element, error) {
	convert, err := gst.NewElement("audioconvert")
	if err != nil {
		return nil, fmt.Errorf("create audioconvert: %w", err)
	}
	resample, err := gst.NewElement("audioresample")
	if err != nil {
		return nil, fmt.Errorf("create audioresample: %w", err)
	}
	sink, err := gst.NewElement(f.audioSink)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", f.audioSink, err)
	}
	return []*gst.Element{convert, resample, sink}, nil
}

// linkDecodePad attaches a freshly exposed decodebin pad to the first
// branch head that accepts its caps.
func linkDecodePad(logger *slog.Logger, srcPad *gst.Pad, heads ...*gst.Element) {
	for _, head := range heads {
		if head == nil {
			continue
		}
		sinkPad := head.GetStaticPad("sink")
		if sinkPad == nil {
			continue
		}
		if srcPad.Link(sinkPad) == gst.PadLinkOK {
			logger.Debug("linked decoder pad", logging.String("pad", srcPad.GetName()))
			return
		}
	}
	logger.Warn("no render branch accepted decoder pad", logging.String("pad", srcPad.GetName()))
}

type gstEngine struct {
	pipeline   *gst.Pipeline
	bus        *gst.Bus
	capsfilter *gst.Element
	logger     *slog.Logger
}

func (e *gstEngine) SetState(target engine.State) error {
	if err := e.pipeline.SetState(toGstState(target)); err != nil {
		return fmt.Errorf("set state %s: %w", target, err)
	}
	return nil
}

func (e *gstEngine) Seek(position time.Duration, rate float64) error {
	if rate == 0 {
		return fmt.Errorf("seek rate must be nonzero")
	}
	seek := gst.NewSeekEvent(
		rate,
		gst.FormatTime,
		gst.SeekFlagFlush|gst.SeekFlagAccurate,
		gst.SeekTypeSet,
		position.Nanoseconds(),
		gst.SeekTypeNone,
		0,
	)
	if !e.pipeline.SendEvent(seek) {
		return fmt.Errorf("seek to %s at rate %g refused", position, rate)
	}
	return nil
}

func (e *gstEngine) SetVideoSize(width, height int) error {
	if e.capsfilter == nil {
		return nil
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid video size %dx%d", width, height)
	}
	caps := gst.NewCapsFromString(fmt.Sprintf("video/x-raw,width=%d,height=%d", width, height))
	if caps == nil {
		return fmt.Errorf("build caps for %dx%d", width, height)
	}
	e.capsfilter.SetProperty("caps", caps)
	return nil
}

func (e *gstEngine) PollEvent() (engine.Event, bool) {
	for {
		msg := e.bus.TimedPop(0)
		if msg == nil {
			return engine.Event{}, false
		}
		switch msg.Type() {
		case gst.MessageEOS:
			return engine.Event{Type: engine.EventEndOfStream}, true
		case gst.MessageError:
			gerr := msg.ParseError()
			e.logger.Debug("pipeline error detail",
				logging.String("error", gerr.Error()),
				logging.String("debug", gerr.DebugString()),
			)
			return engine.Event{Type: engine.EventError, Err: gerr}, true
		case gst.MessageStateChanged:
			// Element-level transitions are noise; only the
			// pipeline's own matter here.
			if msg.Source() != e.pipeline.GetName() {
				continue
			}
			old, next := msg.ParseStateChanged()
			return engine.Event{
				Type: engine.EventStateChanged,
				From: fromGstState(old),
				To:   fromGstState(next),
			}, true
		}
	}
}

func (e *gstEngine) Close() error {
	if err := e.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("release pipeline: %w", err)
	}
	return nil
}

func toGstState(s engine.State) gst.State {
	switch s {
	case engine.StateReady:
		return gst.StateReady
	case engine.StatePaused:
		return gst.StatePaused
	case engine.StatePlaying:
		return gst.StatePlaying
	default:
		return gst.StateNull
	}
}

func fromGstState(s gst.State) engine.State {
	switch s {
	case gst.StateReady:
		return engine.StateReady
	case gst.StatePaused:
		return engine.StatePaused
	case gst.StatePlaying:
		return engine.StatePlaying
	default:
		return engine.StateNull
	}
}
