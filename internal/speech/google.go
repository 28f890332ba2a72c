package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gspeech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/rbright/muninn/internal/audio"
)

// Google recognizes whole files with the Cloud Speech-to-Text v1 Recognize RPC.
type Google struct {
	client *gspeech.Client
	conn   *grpc.ClientConn
	opts   Options
}

// NewGoogle connects to Cloud Speech-to-Text, or to a plaintext endpoint when opts.Insecure.
func NewGoogle(ctx context.Context, opts Options) (*Google, error) {
	if strings.TrimSpace(opts.LanguageCode) == "" {
		opts.LanguageCode = "en-US"
	}

	var (
		clientOpts []option.ClientOption
		conn       *grpc.ClientConn
	)
	endpoint := strings.TrimSpace(opts.Endpoint)
	if opts.Insecure {
		if endpoint == "" {
			return nil, errors.New("insecure google speech requires an endpoint")
		}
		var err error
		conn, err = dialPlaintext(ctx, endpoint, opts.DialTimeout)
		if err != nil {
			return nil, err
		}
		clientOpts = append(clientOpts, option.WithGRPCConn(conn), option.WithoutAuthentication())
	} else {
		if endpoint != "" {
			clientOpts = append(clientOpts, option.WithEndpoint(endpoint))
		}
		if path := strings.TrimSpace(opts.CredentialsFile); path != "" {
			clientOpts = append(clientOpts, option.WithCredentialsFile(path))
		}
		if key := strings.TrimSpace(opts.APIKey); key != "" {
			clientOpts = append(clientOpts, option.WithAPIKey(key))
		}
	}

	client, err := gspeech.NewClient(ctx, clientOpts...)
	if err != nil {
		if conn != nil {
			_ = conn.Close()
		}
		return nil, fmt.Errorf("create google speech client: %w", err)
	}
	return &Google{client: client, conn: conn, opts: opts}, nil
}

// dialPlaintext opens a TLS-free gRPC connection and waits until it is usable.
func dialPlaintext(ctx context.Context, endpoint string, timeout time.Duration) (*grpc.ClientConn, error) {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial speech grpc %q: %w", endpoint, err)
	}

	readyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn.Connect()
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			return conn, nil
		}
		if state == connectivity.Shutdown {
			_ = conn.Close()
			return nil, errors.New("speech grpc connection shut down")
		}
		if !conn.WaitForStateChange(readyCtx, state) {
			_ = conn.Close()
			return nil, fmt.Errorf("wait for speech grpc readiness in state %s: %w", state.String(), readyCtx.Err())
		}
	}
}

// Recognize sends the WAV samples as LINEAR16 and joins the top alternative of every result.
func (g *Google) Recognize(ctx context.Context, path string) (string, error) {
	format, pcm, err := audio.ReadWAVFile(path)
	if err != nil {
		return "", fmt.Errorf("read %q: %w", path, err)
	}

	cfg := &speechpb.RecognitionConfig{
		Encoding:                   speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz:            int32(format.SampleRate),
		AudioChannelCount:          int32(format.Channels),
		LanguageCode:               g.opts.LanguageCode,
		Model:                      g.opts.Model,
		EnableAutomaticPunctuation: true,
	}
	if len(g.opts.Phrases) > 0 {
		cfg.SpeechContexts = []*speechpb.SpeechContext{{Phrases: g.opts.Phrases}}
	}

	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: cfg,
		Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: pcm}},
	})
	if err != nil {
		return "", fmt.Errorf("google recognize: %w", err)
	}
	g.dump(resp)

	parts := make([]string, 0, len(resp.GetResults()))
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if text := strings.TrimSpace(alts[0].GetTranscript()); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return "", ErrNoSpeech
	}
	return strings.Join(parts, " "), nil
}

func (g *Google) dump(resp *speechpb.RecognizeResponse) {
	if g.opts.DebugResponseSink == nil {
		return
	}
	payload, err := protojson.Marshal(resp)
	if err != nil {
		return
	}
	_, _ = g.opts.DebugResponseSink.Write(append(payload, '\n'))
}

// Close shuts down the client and any plaintext connection.
func (g *Google) Close() error {
	err := g.client.Close()
	if g.conn != nil {
		// The client may already have closed a connection it was handed.
		_ = g.conn.Close()
	}
	return err
}
