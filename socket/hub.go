package socket

import (
	"database/sql"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"notesync/pkg/logger"
)

const (
	NoteCreatedType    = "NOTE_CREATED"    // A note was created through the API
	NoteUpdatedType    = "NOTE_UPDATED"    // A note's content was replaced
	NoteDeletedType    = "NOTE_DELETED"    // A note was removed
	PresenceUpdateType = "PRESENCE_UPDATE" // A device connected or disconnected
)

type WSMessage struct {
	Type     string          `json:"type"`
	ServerID int64           `json:"server_id,omitempty"`
	ClientID string          `json:"client_id,omitempty"`
	DeviceID string          `json:"device_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

type DeviceStatus struct {
	DeviceID    string    `json:"device_id"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeen    time.Time `json:"last_seen"`
}

// Hub tracks which devices hold a live socket. A device's socket doubles as
// its connectivity signal, and the hub pushes note changes made by one device
// to the others.
type Hub struct {
	Devices    map[*Client]bool
	Broadcast  chan WSMessage
	Register   chan *Client
	Unregister chan *Client
	db         *sql.DB
	mu         sync.Mutex
	Presence   map[string]DeviceStatus // deviceID -> status
	// Devices whose last_seen has not been written to the database yet.
	dirtySeen map[string]bool
}

type Client struct {
	Hub      *Hub
	Conn     *websocket.Conn
	DeviceID string
	Send     chan []byte
}

func NewHub(db *sql.DB) *Hub {
	return &Hub{
		Devices:    make(map[*Client]bool),
		Broadcast:  make(chan WSMessage),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		db:         db,
		Presence:   make(map[string]DeviceStatus),
		dirtySeen:  make(map[string]bool),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			h.Devices[client] = true
			now := time.Now()
			status, ok := h.Presence[client.DeviceID]
			if !ok {
				status = DeviceStatus{DeviceID: client.DeviceID, ConnectedAt: now}
			}
			status.LastSeen = now
			h.Presence[client.DeviceID] = status
			h.dirtySeen[client.DeviceID] = true
			h.mu.Unlock()

			logger.Sugar.Infof("Device %s connected", client.DeviceID)
			h.broadcastPresenceUpdate()

		case client := <-h.Unregister:
			if h.drop(client) {
				logger.Sugar.Infof("Device %s disconnected", client.DeviceID)
				h.broadcastPresenceUpdate()
			}

		case msg := <-h.Broadcast:
			payload, err := json.Marshal(msg)
			if err != nil {
				logger.Sugar.Errorf("Error marshalling broadcast message: %v", err)
				continue
			}

			// Build the recipient list under the lock, send outside it.
			h.mu.Lock()
			clientsToSend := make([]*Client, 0, len(h.Devices))
			for client := range h.Devices {
				if client.DeviceID != msg.DeviceID { // Don't echo a change back to the device that made it.
					clientsToSend = append(clientsToSend, client)
				}
			}
			h.mu.Unlock()

			var lagging []*Client
			for _, client := range clientsToSend {
				select {
				case client.Send <- payload:
				default:
					logger.Sugar.Warnf("Device %s's send buffer is full. Disconnecting.", client.DeviceID)
					lagging = append(lagging, client)
				}
			}
			// Unregister is read by this goroutine, so it cannot be sent to here.
			dropped := false
			for _, client := range lagging {
				if h.drop(client) {
					dropped = true
				}
				client.Conn.Close()
			}
			if dropped {
				h.broadcastPresenceUpdate()
			}
		}
	}
}

// drop forgets a client and closes its send channel. It reports false if the
// client was already gone.
func (h *Hub) drop(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.Devices[client]; !ok {
		return false
	}
	delete(h.Devices, client)
	close(client.Send)

	// The same device may hold more than one socket.
	for other := range h.Devices {
		if other.DeviceID == client.DeviceID {
			return true
		}
	}
	delete(h.Presence, client.DeviceID)
	return true
}

// Publish hands a note change to the hub for delivery to connected devices.
func (h *Hub) Publish(msg WSMessage) {
	h.Broadcast <- msg
}

// Touch records activity from a device.
func (h *Hub) Touch(deviceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if status, ok := h.Presence[deviceID]; ok {
		status.LastSeen = time.Now()
		h.Presence[deviceID] = status
		h.dirtySeen[deviceID] = true
	}
}

// ConnectedDevices returns the devices that currently hold a socket, ordered by id.
func (h *Hub) ConnectedDevices() []DeviceStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	devices := make([]DeviceStatus, 0, len(h.Presence))
	for _, status := range h.Presence {
		devices = append(devices, status)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].DeviceID < devices[j].DeviceID })
	return devices
}

// SeenWorker periodically writes device last-seen times to the database.
func (h *Hub) SeenWorker(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		h.FlushSeen()
	}
}

// FlushSeen writes every pending last-seen time. Failed writes stay pending
// and are retried on the next flush. A hub without a database keeps presence
// in memory only.
func (h *Hub) FlushSeen() {
	if h.db == nil {
		return
	}
	toSave := make(map[string]time.Time)

	h.mu.Lock()
	for deviceID, dirty := range h.dirtySeen {
		if !dirty {
			continue
		}
		if status, ok := h.Presence[deviceID]; ok {
			toSave[deviceID] = status.LastSeen
		} else {
			delete(h.dirtySeen, deviceID)
		}
	}
	h.mu.Unlock()

	// Database I/O without holding the hub's lock.
	for deviceID, seen := range toSave {
		_, err := h.db.Exec(`INSERT INTO devices (id, last_seen) VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET last_seen = EXCLUDED.last_seen`, deviceID, seen)
		if err != nil {
			logger.Sugar.Errorf("Failed to record last seen for device %s: %v", deviceID, err)
			continue
		}

		h.mu.Lock()
		// Only clear if nothing newer arrived during the write.
		if status, ok := h.Presence[deviceID]; !ok || !status.LastSeen.After(seen) {
			h.dirtySeen[deviceID] = false
		}
		h.mu.Unlock()
	}
}

func (h *Hub) broadcastPresenceUpdate() {
	devices := h.ConnectedDevices()

	h.mu.Lock()
	clientsToSend := make([]*Client, 0, len(h.Devices))
	for client := range h.Devices {
		clientsToSend = append(clientsToSend, client)
	}
	h.mu.Unlock()

	if len(clientsToSend) == 0 {
		return
	}

	payload, err := json.Marshal(devices)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling presence broadcast: %v", err)
		return
	}
	broadcastPayload, _ := json.Marshal(WSMessage{Type: PresenceUpdateType, Payload: payload})

	for _, client := range clientsToSend {
		select {
		case client.Send <- broadcastPayload:
		default:
			// The pumps will notice an unresponsive device.
			logger.Sugar.Warnf("Device %s's send buffer was full during presence update.", client.DeviceID)
		}
	}
}
