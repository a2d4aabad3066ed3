package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hanpama/subscribe/internal/envelope"
	"github.com/hanpama/subscribe/internal/environment"
	"github.com/hanpama/subscribe/internal/eventbus"
	"github.com/hanpama/subscribe/internal/otel"
	"github.com/hanpama/subscribe/internal/printer"
	"github.com/hanpama/subscribe/internal/reconciler"
	"github.com/hanpama/subscribe/internal/subscription"
	"github.com/hanpama/subscribe/internal/wstp"
)

const rootUsage = `subscribe: declarative GraphQL subscriptions over graphql-transport-ws

USAGE:
  subscribe <command> [flags]

COMMANDS:
  watch            Keep subscriptions in sync with input snapshots read from stdin
  print            Print the materialized query and variables of one subscription
  help             Show help for any command
`

const watchUsage = `watch FLAGS:
  -url <ws-url>                       GraphQL websocket endpoint (required)
  -subscription <Kind=file.graphql>   Declarative subscription slot. Repeatable; order
                                      defines slot order
  -header <Name: value>               Extra handshake header. Repeatable
  -env <key=value>                    Environment value substituted for "$env:<key>"
                                      input strings. Repeatable
  -timeout <duration>                 Dial and handshake timeout (default: 10s)
  -otel.endpoint <addr>               OTLP collector endpoint
  -otel.service <name>                OpenTelemetry service name (default: subscribe)

Each stdin line is a JSON object mapping a Kind to its input object. A missing
or null Kind leaves that slot empty. The first line attaches, every further
line re-reconciles, EOF detaches. Pushed payloads are written to stdout as JSON
lines.
`

const printUsage = `print FLAGS:
  -subscription <Kind=file.graphql>   Subscription document (required)
  -input <json>                       Input object (default: {})
  -env <key=value>                    Environment value substituted for "$env:<key>"
                                      input strings. Repeatable
`

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		log.Fatal(err)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	global := flag.NewFlagSet("subscribe", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	if err := global.Parse(args); err != nil {
		fmt.Fprint(stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "watch":
		return cmdWatch(cmdArgs, stdin, stdout, stderr)
	case "print":
		return cmdPrint(cmdArgs, stdout, stderr)
	case "help":
		return cmdHelp(cmdArgs, stdout)
	default:
		fmt.Fprint(stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, rootUsage)
		return nil
	}
	switch args[0] {
	case "watch":
		fmt.Fprint(stdout, watchUsage)
	case "print":
		fmt.Fprint(stdout, printUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

type subscriptionFlag struct {
	kinds []subscription.Kind
	files []string
}

func (s *subscriptionFlag) String() string { return "" }

func (s *subscriptionFlag) Set(v string) error {
	parts := strings.SplitN(v, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid subscription %q", v)
	}
	kind := strings.TrimSpace(parts[0])
	file := strings.TrimSpace(parts[1])
	if kind == "" || file == "" {
		return fmt.Errorf("invalid subscription %q", v)
	}
	s.kinds = append(s.kinds, subscription.Kind(kind))
	s.files = append(s.files, file)
	return nil
}

type keyValueFlag struct {
	sep string
	m   map[string]string
}

func (f *keyValueFlag) String() string { return "" }

func (f *keyValueFlag) Set(v string) error {
	parts := strings.SplitN(v, f.sep, 2)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
		return fmt.Errorf("invalid value %q", v)
	}
	if f.m == nil {
		f.m = map[string]string{}
	}
	f.m[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	return nil
}

func (f *keyValueFlag) values() subscription.Values {
	v := subscription.Values{}
	for k, s := range f.m {
		v[k] = s
	}
	return v
}

// snapshot maps a Kind to its input object.
type snapshot map[string]map[string]any

// slotFactory builds the descriptor of one kind from a snapshot. A missing
// clientSubscriptionId is derived from the input so that equal inputs keep
// producing equal descriptors. String values of the form "$env:<key>" are
// replaced by the environment value of key when the descriptor is bound.
func slotFactory(kind subscription.Kind, query string) reconciler.Factory[snapshot] {
	return func(s snapshot) (*subscription.Subscription, error) {
		input, ok := s[string(kind)]
		if !ok || input == nil {
			return nil, nil
		}
		in := make(map[string]any, len(input)+1)
		for k, v := range input {
			in[k] = v
		}
		if _, ok := in["clientSubscriptionId"]; !ok {
			raw, err := json.Marshal(input)
			if err != nil {
				return nil, err
			}
			in["clientSubscriptionId"] = string(kind) + "-" + uuid.NewSHA1(uuid.NameSpaceOID, raw).String()
		}
		return subscription.New(kind, query, func(env subscription.Environment) (map[string]any, error) {
			resolved, err := resolveEnv(in, env)
			if err != nil {
				return nil, err
			}
			return map[string]any{"input": resolved}, nil
		}), nil
	}
}

const envPrefix = "$env:"

// resolveEnv returns a copy of v with "$env:<key>" strings looked up in env.
func resolveEnv(v any, env subscription.Environment) (any, error) {
	switch v := v.(type) {
	case string:
		key, ok := strings.CutPrefix(v, envPrefix)
		if !ok {
			return v, nil
		}
		val, ok := env.Lookup(key)
		if !ok {
			return nil, fmt.Errorf("environment value %q is not set", key)
		}
		return val, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			r, err := resolveEnv(item, env)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			r, err := resolveEnv(item, env)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

type output struct {
	Subscription string          `json:"subscription"`
	Event        string          `json:"event"`
	Data         json.RawMessage `json:"data,omitempty"`
	Errors       any             `json:"errors,omitempty"`
}

// lineWriter serializes JSON lines written from transport goroutines.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lineWriter) write(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	lw.mu.Lock()
	defer lw.mu.Unlock()
	lw.w.Write(append(b, '\n'))
}

func (lw *lineWriter) observer(kind subscription.Kind) envelope.Observer {
	return envelope.ObserverFuncs{
		Next: func(r envelope.Result) {
			out := output{Subscription: string(kind), Event: "next", Data: r.Data}
			if len(r.Errors) > 0 {
				out.Errors = r.Errors
			}
			lw.write(out)
		},
		Error: func(err error) {
			lw.write(output{Subscription: string(kind), Event: "error", Errors: err.Error()})
		},
		Completed: func(any) {
			lw.write(output{Subscription: string(kind), Event: "completed"})
		},
	}
}

func cmdWatch(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	url := fs.String("url", "", "")
	var subs subscriptionFlag
	fs.Var(&subs, "subscription", "")
	headers := keyValueFlag{sep: ":"}
	fs.Var(&headers, "header", "")
	envValues := keyValueFlag{sep: "="}
	fs.Var(&envValues, "env", "")
	timeout := fs.Duration("timeout", 10*time.Second, "")
	otelEndpoint := fs.String("otel.endpoint", "", "")
	otelService := fs.String("otel.service", "subscribe", "")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(stderr, watchUsage)
		return err
	}
	if *url == "" {
		fmt.Fprint(stderr, watchUsage)
		return fmt.Errorf("-url is required")
	}
	if len(subs.kinds) == 0 {
		fmt.Fprint(stderr, watchUsage)
		return fmt.Errorf("at least one -subscription is required")
	}

	factories := make([]reconciler.Factory[snapshot], len(subs.kinds))
	for i, kind := range subs.kinds {
		b, err := os.ReadFile(subs.files[i])
		if err != nil {
			return err
		}
		factories[i] = slotFactory(kind, string(b))
	}

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(*otelEndpoint, *otelService)
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	h := http.Header{}
	for k, v := range headers.m {
		h.Set(k, v)
	}
	dialCtx, cancel := context.WithTimeout(ctx, *timeout)
	tp, err := wstp.Dial(dialCtx, *url, wstp.WithHeader(h), wstp.WithHandshakeTimeout(*timeout))
	cancel()
	if err != nil {
		return err
	}
	defer tp.Close()

	env := environment.New(environment.WithTransport(tp), environment.WithValues(envValues.values()))
	out := &lineWriter{w: stdout}
	r := reconciler.New("watch", env, env,
		reconciler.Declarations[snapshot]{Subscriptions: factories},
		reconciler.WithObserver(func(_ reconciler.Slot, b *subscription.Bound) envelope.Observer {
			return out.observer(b.Kind())
		}),
	)
	return watch(ctx, r, stdin, stderr)
}

// watch feeds stdin snapshots to r until EOF, then detaches.
func watch(ctx context.Context, r *reconciler.Reconciler[snapshot], stdin io.Reader, stderr io.Writer) error {
	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(stdin)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			select {
			case lines <- append([]byte(nil), sc.Bytes()...):
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
		close(lines)
	}()

	attached := false
	for {
		select {
		case <-ctx.Done():
			if attached {
				return r.Detach(context.Background())
			}
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				err := <-readErr
				if attached {
					if derr := r.Detach(ctx); derr != nil {
						return derr
					}
				}
				return err
			}
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var s snapshot
			if err := json.Unmarshal(line, &s); err != nil {
				fmt.Fprintf(stderr, "invalid snapshot: %v\n", err)
				continue
			}
			var err error
			if !attached {
				err = r.Attach(ctx, s)
				attached = true
			} else {
				err = r.InputsChanged(ctx, s)
			}
			if err != nil {
				fmt.Fprintf(stderr, "reconcile: %v\n", err)
			}
		}
	}
}

func cmdPrint(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("print", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	var subs subscriptionFlag
	fs.Var(&subs, "subscription", "")
	input := fs.String("input", "{}", "")
	envValues := keyValueFlag{sep: "="}
	fs.Var(&envValues, "env", "")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(stderr, printUsage)
		return err
	}
	if len(subs.kinds) != 1 {
		fmt.Fprint(stderr, printUsage)
		return fmt.Errorf("exactly one -subscription is required")
	}
	b, err := os.ReadFile(subs.files[0])
	if err != nil {
		return err
	}
	var in map[string]any
	if err := json.Unmarshal([]byte(*input), &in); err != nil {
		return fmt.Errorf("invalid -input: %w", err)
	}
	sub, err := slotFactory(subs.kinds[0], string(b))(snapshot{string(subs.kinds[0]): in})
	if err != nil {
		return err
	}
	if sub == nil {
		return fmt.Errorf("-input must be an object")
	}
	bound, err := sub.Bind(envValues.values())
	if err != nil {
		return err
	}
	req := envelope.New(bound, nil, printer.New())
	text, err := req.QueryText()
	if err != nil {
		return err
	}
	vars, err := req.Variables()
	if err != nil {
		return err
	}
	enc, err := json.MarshalIndent(vars, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s\n\n%s\n", text, enc)
	return nil
}
