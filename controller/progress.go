package controller

import (
	"sync"
	"time"

	"github.com/dilshat/wa-broadcast/model"
	"github.com/dilshat/wa-broadcast/progress"
	"github.com/dilshat/wa-broadcast/service"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	frameJoin     = "join"
	frameLeave    = "leave"
	frameProgress = "progress"
	frameError    = "error"

	writeWait = 10 * time.Second
)

type Subscriber interface {
	Subscribe(broadcastId uint32, observer progress.Observer) (model.Snapshot, bool)
	Unsubscribe(broadcastId uint32, observer progress.Observer)
}

type clientFrame struct {
	Type        string `json:"type"`
	BroadcastId uint32 `json:"broadcastId"`
}

type serverFrame struct {
	Type        string          `json:"type"`
	BroadcastId uint32          `json:"broadcastId"`
	Snapshot    *model.Snapshot `json:"snapshot,omitempty"`
	Message     string          `json:"message,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// wsObserver writes snapshots to one socket and drops anything not newer than what it already sent.
type wsObserver struct {
	conn *websocket.Conn

	mu   sync.Mutex
	last map[uint32]uint64
}

func newWsObserver(conn *websocket.Conn) *wsObserver {
	return &wsObserver{conn: conn, last: map[uint32]uint64{}}
}

func (o *wsObserver) Notify(snapshot model.Snapshot) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if prev, ok := o.last[snapshot.BroadcastId]; ok && snapshot.Seq <= prev {
		return nil
	}
	o.last[snapshot.BroadcastId] = snapshot.Seq

	return o.write(serverFrame{Type: frameProgress, BroadcastId: snapshot.BroadcastId, Snapshot: &snapshot})
}

func (o *wsObserver) fail(broadcastId uint32, msg string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.write(serverFrame{Type: frameError, BroadcastId: broadcastId, Message: msg})
}

func (o *wsObserver) forget(broadcastId uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.last, broadcastId)
}

func (o *wsObserver) write(frame serverFrame) error {
	if err := o.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return o.conn.WriteJSON(frame)
}

// ProgressSocket godoc
// @Summary Progress socket
// @Description Websocket. Send {"type":"join","broadcastId":N} or {"type":"leave","broadcastId":N}, receive progress frames
// @Param X-User-Id header string true "Owner id"
// @Router /ws/progress [get]
func GetProgressSocketFunc(srv service.Service, subscriber Subscriber) echo.HandlerFunc {
	return func(c echo.Context) error {
		owner, err := ownerId(c)
		if err != nil {
			return err
		}

		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return err
		}
		defer conn.Close()

		observer := newWsObserver(conn)
		joined := map[uint32]bool{}
		defer func() {
			for id := range joined {
				subscriber.Unsubscribe(id, observer)
			}
		}()

		for {
			var frame clientFrame
			if err := conn.ReadJSON(&frame); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					zap.L().Debug("Progress socket closed", zap.Error(err))
				}
				return nil
			}

			switch frame.Type {
			case frameJoin:
				var ok bool
				ok, err = join(srv, subscriber, observer, owner, frame.BroadcastId)
				if ok {
					joined[frame.BroadcastId] = true
				}
			case frameLeave:
				subscriber.Unsubscribe(frame.BroadcastId, observer)
				observer.forget(frame.BroadcastId)
				delete(joined, frame.BroadcastId)
			default:
				err = observer.fail(frame.BroadcastId, "unknown frame type "+frame.Type)
			}
			if err != nil {
				zap.L().Debug("Progress socket write failed", zap.Error(err))
				return nil
			}
		}
	}
}

// join subscribes the observer and sends it the latest snapshot right away.
func join(srv service.Service, subscriber Subscriber, observer *wsObserver, owner string, broadcastId uint32) (bool, error) {
	//ownership check, also the fallback when nothing was published yet
	current, err := srv.GetProgress(owner, broadcastId)
	if err != nil {
		return false, observer.fail(broadcastId, err.Error())
	}

	snapshot, found := subscriber.Subscribe(broadcastId, observer)
	if !found {
		snapshot = model.Snapshot{
			Sent:    current.Sent,
			Failed:  current.Failed,
			Pending: current.Pending,
			Total:   current.Total,
		}
	}
	snapshot.BroadcastId = broadcastId

	return true, observer.Notify(snapshot)
}
