package sapa

import (
	"fmt"
	"sort"
	"strings"

	"github.com/harunnryd/sapa/pkg/adapters/stt"
	"github.com/harunnryd/sapa/pkg/adapters/tts"
	"github.com/harunnryd/sapa/pkg/errorsx"
	"github.com/harunnryd/sapa/pkg/llm"
	"github.com/harunnryd/sapa/pkg/transports"
)

type TranscriberFactory func(cfg Config) (stt.Transcriber, error)
type GeneratorFactory func(cfg Config) (llm.Generator, error)
type SynthesizerFactory func(cfg Config) (tts.Synthesizer, error)
type TransportFactory func(cfg Config) (transports.Transport, error)

// ProviderRegistry maps configured provider names to constructors. Names
// are matched case-insensitively.
type ProviderRegistry struct {
	stt       map[string]TranscriberFactory
	llm       map[string]GeneratorFactory
	tts       map[string]SynthesizerFactory
	transport map[string]TransportFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		stt:       make(map[string]TranscriberFactory),
		llm:       make(map[string]GeneratorFactory),
		tts:       make(map[string]SynthesizerFactory),
		transport: make(map[string]TransportFactory),
	}
}

func key(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

func (r *ProviderRegistry) RegisterTranscriber(name string, f TranscriberFactory) { r.stt[key(name)] = f }
func (r *ProviderRegistry) RegisterGenerator(name string, f GeneratorFactory)     { r.llm[key(name)] = f }
func (r *ProviderRegistry) RegisterSynthesizer(name string, f SynthesizerFactory) { r.tts[key(name)] = f }
func (r *ProviderRegistry) RegisterTransport(name string, f TransportFactory)     { r.transport[key(name)] = f }

func (r *ProviderRegistry) BuildTranscriber(cfg Config) (stt.Transcriber, error) {
	f := r.stt[key(cfg.Vendors.STT.Provider)]
	if f == nil {
		return nil, notRegistered("stt", cfg.Vendors.STT.Provider, r.stt)
	}
	return f(cfg)
}

func (r *ProviderRegistry) BuildGenerator(cfg Config) (llm.Generator, error) {
	f := r.llm[key(cfg.Vendors.LLM.Provider)]
	if f == nil {
		return nil, notRegistered("llm", cfg.Vendors.LLM.Provider, r.llm)
	}
	return f(cfg)
}

func (r *ProviderRegistry) BuildSynthesizer(cfg Config) (tts.Synthesizer, error) {
	f := r.tts[key(cfg.Vendors.TTS.Provider)]
	if f == nil {
		return nil, notRegistered("tts", cfg.Vendors.TTS.Provider, r.tts)
	}
	return f(cfg)
}

func (r *ProviderRegistry) BuildTransport(cfg Config) (transports.Transport, error) {
	f := r.transport[key(cfg.Transports.Provider)]
	if f == nil {
		return nil, notRegistered("transport", cfg.Transports.Provider, r.transport)
	}
	return f(cfg)
}

func notRegistered[F any](kind, name string, m map[string]F) error {
	known := make([]string, 0, len(m))
	for k := range m {
		known = append(known, k)
	}
	sort.Strings(known)
	return errorsx.Configuration(fmt.Errorf("%s provider not registered: %q (known: %s)", kind, name, strings.Join(known, ", ")))
}
