// Package conf holds the typed configuration scanned from configs/config.yaml.
package conf

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bootstrap is the root of the configuration tree.
type Bootstrap struct {
	Server     *Server     `json:"server"`
	Data       *Data       `json:"data"`
	Moderation *Moderation `json:"moderation"`
	Log        *Log        `json:"log"`
}

type Log struct {
	Level string `json:"level"`
}

func (l *Log) GetLevel() string {
	if l == nil {
		return ""
	}
	return l.Level
}

type Server struct {
	HTTP   *HTTP   `json:"http"`
	Upload *Upload `json:"upload"`
}

func (s *Server) GetHTTP() *HTTP {
	if s == nil {
		return nil
	}
	return s.HTTP
}

func (s *Server) GetUpload() *Upload {
	if s == nil {
		return nil
	}
	return s.Upload
}

type HTTP struct {
	Network string    `json:"network"`
	Addr    string    `json:"addr"`
	Timeout *Duration `json:"timeout"`
}

type Upload struct {
	Dir      string `json:"dir"`
	MaxBytes int64  `json:"max_bytes"`
}

type Data struct {
	Database *Database `json:"database"`
	Redis    *Redis    `json:"redis"`
}

func (d *Data) GetDatabase() *Database {
	if d == nil {
		return nil
	}
	return d.Database
}

func (d *Data) GetRedis() *Redis {
	if d == nil {
		return nil
	}
	return d.Redis
}

type Database struct {
	Driver string `json:"driver"`
	Source string `json:"source"`
	Pool   *Pool  `json:"pool"`
}

// Pool lifetimes are in minutes.
type Pool struct {
	MaxOpenConns    int32 `json:"max_open_conns"`
	MinIdleConns    int32 `json:"min_idle_conns"`
	MaxConnLifetime int32 `json:"max_conn_lifetime"`
	MaxConnIdleTime int32 `json:"max_conn_idle_time"`
}

type Redis struct {
	Network      string    `json:"network"`
	Addr         string    `json:"addr"`
	Password     string    `json:"password"`
	DB           int       `json:"db"`
	ReadTimeout  *Duration `json:"read_timeout"`
	WriteTimeout *Duration `json:"write_timeout"`
}

type Moderation struct {
	Media       *Media       `json:"media"`
	Transcriber *Transcriber `json:"transcriber"`
	Text        *Text        `json:"text"`
	NSFW        *NSFW        `json:"nsfw"`
	Violence    *Violence    `json:"violence"`
}

func (m *Moderation) GetMedia() *Media {
	if m == nil {
		return nil
	}
	return m.Media
}

func (m *Moderation) GetTranscriber() *Transcriber {
	if m == nil {
		return nil
	}
	return m.Transcriber
}

func (m *Moderation) GetText() *Text {
	if m == nil {
		return nil
	}
	return m.Text
}

func (m *Moderation) GetNSFW() *NSFW {
	if m == nil {
		return nil
	}
	return m.NSFW
}

func (m *Moderation) GetViolence() *Violence {
	if m == nil {
		return nil
	}
	return m.Violence
}

type Media struct {
	FFmpegPath    string    `json:"ffmpeg_path"`
	WorkDir       string    `json:"work_dir"`
	FrameInterval int       `json:"frame_interval"`
	Timeout       *Duration `json:"timeout"`
}

type Transcriber struct {
	BaseURL  string    `json:"base_url"`
	APIKey   string    `json:"api_key"`
	Model    string    `json:"model"`
	Language string    `json:"language"`
	Timeout  *Duration `json:"timeout"`
}

// Text configures the remote text classifier. Backend is one of
// "openai", "vllm" or "ollama".
type Text struct {
	Backend     string    `json:"backend"`
	BaseURL     string    `json:"base_url"`
	Model       string    `json:"model"`
	APIKey      string    `json:"api_key"`
	MaxTokens   int       `json:"max_tokens"`
	Timeout     *Duration `json:"timeout"`
	Concurrency int       `json:"concurrency"`
	CacheTTL    *Duration `json:"cache_ttl"`
}

func (t *Text) GetTimeout() *Duration {
	if t == nil {
		return nil
	}
	return t.Timeout
}

func (t *Text) GetConcurrency() int {
	if t == nil {
		return 0
	}
	return t.Concurrency
}

func (t *Text) GetCacheTTL() *Duration {
	if t == nil {
		return nil
	}
	return t.CacheTTL
}

type NSFW struct {
	Threshold float64       `json:"threshold"`
	Workers   int           `json:"workers"`
	Timeout   *Duration     `json:"timeout"`
	CacheTTL  *Duration     `json:"cache_ttl"`
	Members   []*NSFWMember `json:"members"`
}

func (n *NSFW) GetTimeout() *Duration {
	if n == nil {
		return nil
	}
	return n.Timeout
}

func (n *NSFW) GetCacheTTL() *Duration {
	if n == nil {
		return nil
	}
	return n.CacheTTL
}

func (n *NSFW) GetMembers() []*NSFWMember {
	if n == nil {
		return nil
	}
	return n.Members
}

// NSFWMember is one model of the frame ensemble. Decision is "label" (argmax
// label in UnsafeLabels) or "score" (sum of UnsafeLabels scores above
// ScoreThreshold).
type NSFWMember struct {
	Name           string   `json:"name"`
	Addr           string   `json:"addr"`
	Model          string   `json:"model"`
	Decision       string   `json:"decision"`
	UnsafeLabels   []string `json:"unsafe_labels"`
	ScoreThreshold float64  `json:"score_threshold"`
	BatchSize      int      `json:"batch_size"`
}

type Violence struct {
	Addr        string    `json:"addr"`
	Model       string    `json:"model"`
	WeightsPath string    `json:"weights_path"`
	Frames      int       `json:"frames"`
	Stride      int       `json:"stride"`
	Timeout     *Duration `json:"timeout"`
}

func (v *Violence) GetStride() int {
	if v == nil {
		return 0
	}
	return v.Stride
}

// Duration accepts either a Go duration string ("30s") or a number of seconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		d.Duration = v
		return nil
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("invalid duration %s", string(b))
	}
	d.Duration = time.Duration(secs * float64(time.Second))
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

// AsDuration returns zero for a nil receiver.
func (d *Duration) AsDuration() time.Duration {
	if d == nil {
		return 0
	}
	return d.Duration
}
