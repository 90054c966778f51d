package gridfeed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"gridmap/internal/common"
	"gridmap/internal/grid"
	"gridmap/internal/regions"
)

// ErrNotConnected is returned by RequestBlocks while the feed is offline
var ErrNotConnected = errors.New("grid feed is not connected")

// Message types
const (
	TypeRegion    = "region"
	TypeRegions   = "regions"
	TypeMapBlocks = "map_blocks"
)

const (
	DefaultMinBackoff   = 1 * time.Second
	DefaultMaxBackoff   = 60 * time.Second
	DefaultPingInterval = 20 * time.Second
	writeTimeout        = 5 * time.Second
)

// RegionInfo is a region as the grid describes it, addressed by grid index
type RegionInfo struct {
	X       uint32    `json:"x"`
	Y       uint32    `json:"y"`
	Name    string    `json:"name"`
	ImageID uuid.UUID `json:"imageId"`
	Access  uint8     `json:"access"`
}

// Message is one frame on the feed
type Message struct {
	Type    string       `json:"type"`
	Region  *RegionInfo  `json:"region,omitempty"`
	Regions []RegionInfo `json:"regions,omitempty"`

	// map_blocks request range, inclusive grid indices
	MinX int `json:"minX,omitempty"`
	MaxX int `json:"maxX,omitempty"`
	MinY int `json:"minY,omitempty"`
	MaxY int `json:"maxY,omitempty"`
}

// RegionSink receives region metadata
type RegionSink interface {
	Put(r regions.Region)
}

// Options configures a Client
type Options struct {
	URL          string
	RegionSize   uint32
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	PingInterval time.Duration
	Verbose      bool
}

// Client keeps a websocket open to the grid, feeding region metadata into a
// sink and sending map block requests
type Client struct {
	opts Options
	sink RegionSink

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool

	writeMu sync.Mutex
}

// NewClient creates a feed client. Run connects it.
func NewClient(sink RegionSink, opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("grid feed URL is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("region sink is required")
	}
	if opts.RegionSize == 0 {
		opts.RegionSize = grid.DefaultRegionSize
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = DefaultMinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	return &Client{opts: opts, sink: sink}, nil
}

// Connected reports whether the feed is currently open
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Run connects and reads until ctx is done, reconnecting with capped
// exponential backoff. It returns ctx.Err().
func (c *Client) Run(ctx context.Context) error {
	backoff := c.opts.MinBackoff

	for {
		connected, err := c.serve(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = c.opts.MinBackoff
		}
		log.Printf("[GridFeed] Connection lost: %v. Retrying in %v...", err, backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}

		backoff *= 2
		if backoff > c.opts.MaxBackoff {
			backoff = c.opts.MaxBackoff
		}
	}
}

// serve runs one connection and reports whether it was established
func (c *Client) serve(ctx context.Context) (bool, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return false, err
	}

	readTimeout := 3 * c.opts.PingInterval
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	log.Printf("[GridFeed] Connected to %s", c.opts.URL)

	done := make(chan struct{})
	defer func() {
		close(done)
		c.mu.Lock()
		c.conn = nil
		c.connected = false
		c.mu.Unlock()
		conn.Close()
	}()

	go c.keepalive(ctx, conn, done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		c.handle(data)
	}
}

// keepalive pings the server and closes the connection when ctx ends
func (c *Client) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			conn.Close()
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				log.Printf("[GridFeed] Ping failed: %v", err)
				conn.Close()
				return
			}
		}
	}
}

func (c *Client) handle(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("[GridFeed] Ignoring malformed message: %v", err)
		return
	}

	switch msg.Type {
	case TypeRegion:
		if msg.Region != nil {
			c.put(*msg.Region)
		}
	case TypeRegions:
		for _, r := range msg.Regions {
			c.put(r)
		}
	default:
		if c.opts.Verbose {
			log.Printf("[GridFeed] Ignoring message type %q", msg.Type)
		}
	}
}

func (c *Client) put(info RegionInfo) {
	c.sink.Put(regions.Region{
		Handle:  grid.HandleFromIndex(info.X, info.Y, c.opts.RegionSize),
		Name:    info.Name,
		ImageID: info.ImageID,
		Access:  regions.Access(info.Access),
	})
}

// RequestBlocks asks the grid for the metadata of every region in b
func (c *Client) RequestBlocks(b common.TileBounds) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(Message{
		Type: TypeMapBlocks,
		MinX: b.MinCol,
		MaxX: b.MaxCol,
		MinY: b.MinRow,
		MaxY: b.MaxRow,
	})
	if err != nil {
		return fmt.Errorf("failed to encode map block request: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send map block request: %w", err)
	}
	if c.opts.Verbose {
		log.Printf("[GridFeed] Requested map blocks %s", b.Key())
	}
	return nil
}
