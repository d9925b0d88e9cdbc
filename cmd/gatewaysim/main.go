// gatewaysim replays scripted gateway envelope frames over WebSocket so the
// overlay UI can be developed without a live platform session.
package main

import (
	"bufio"
	"flag"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"nhooyr.io/websocket"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("gatewaysim: .env: %v", err)
	}

	var (
		addr       string
		scriptPath string
		intervalMS int
		loop       bool
	)

	flag.StringVar(&addr, "addr", ":21215", "HTTP listen address")
	flag.StringVar(&scriptPath, "script", "", "Path to a JSON-lines script of envelope frames")
	flag.IntVar(&intervalMS, "interval-ms", 500, "Delay between replayed frames")
	flag.BoolVar(&loop, "loop", false, "Replay the script forever")
	flag.Parse()

	frames := demoScript()
	if scriptPath != "" {
		loaded, err := loadScript(scriptPath)
		if err != nil {
			log.Fatalf("gatewaysim: load script: %v", err)
		}
		if len(loaded) == 0 {
			log.Fatalf("gatewaysim: script %s contains no frames", scriptPath)
		}
		frames = loaded
	}

	interval := time.Duration(intervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/gateway", func(w http.ResponseWriter, r *http.Request) {
		serveSession(w, r, frames, interval, loop)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	log.Printf("gatewaysim: listening on %s (frames=%d loop=%t)", addr, len(frames), loop)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}

func serveSession(w http.ResponseWriter, r *http.Request, frames [][]byte, interval time.Duration, loop bool) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		log.Printf("gatewaysim: accept: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	ctx := r.Context()

	// session negotiation mirrors the real gateway: hello in, connected out
	_, data, err := conn.Read(ctx)
	if err != nil {
		return
	}
	var hello struct {
		Action   string `json:"action"`
		Username string `json:"username"`
	}
	if err := json.Unmarshal(data, &hello); err != nil || hello.Action != "watch" {
		reject, _ := json.Marshal(map[string]string{"event": "error", "message": "expected watch hello"})
		_ = conn.Write(ctx, websocket.MessageText, reject)
		return
	}
	connected, _ := json.Marshal(map[string]string{"event": "connected", "room_id": "sim-" + hello.Username})
	if err := conn.Write(ctx, websocket.MessageText, connected); err != nil {
		return
	}
	log.Printf("gatewaysim: session for %s", hello.Username)

	for {
		for _, frame := range frames {
			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
				return
			}
		}
		if !loop {
			break
		}
	}

	end, _ := json.Marshal(map[string]string{"event": "streamEnd"})
	_ = conn.Write(ctx, websocket.MessageText, end)
}

func loadScript(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var frames [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !json.Valid([]byte(line)) {
			log.Printf("gatewaysim: skipping invalid frame: %.60s", line)
			continue
		}
		frames = append(frames, []byte(line))
	}
	return frames, scanner.Err()
}

func demoScript() [][]byte {
	lines := []string{
		`{"event":"member","user":{"user_id":"7000000000000000001","nickname":"demo_viewer","unique_id":"demo_viewer","badges":[{"level":21}]}}`,
		`{"event":"chat","user":{"user_id":"7000000000000000001","nickname":"demo_viewer","unique_id":"demo_viewer"},"comment":"hello overlay"}`,
		`{"event":"like","user":{"user_id":"7000000000000000001","nickname":"demo_viewer"},"like_count":5,"total_like_count":120}`,
		`{"event":"gift","user":{"user_id":"7000000000000000002","nickname":"big_spender","unique_id":"big_spender"},"gift":{"gift_id":1,"name":"Rose","diamond_count":1,"repeat_count":3,"combo":true,"combo_end":true}}`,
		`{"event":"roomUser","viewer_count":42}`,
	}
	frames := make([][]byte, 0, len(lines))
	for _, l := range lines {
		frames = append(frames, []byte(l))
	}
	return frames
}
