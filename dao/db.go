package dao

import (
	"errors"
	"sync"
	"time"

	"github.com/asdine/storm/v3"
	"github.com/asdine/storm/v3/index"
	"github.com/asdine/storm/v3/q"
	"github.com/dilshat/wa-broadcast/model"
	"github.com/dilshat/wa-broadcast/util"
	bolt "go.etcd.io/bbolt"
)

type Db interface {
	Init(data interface{}) error
	One(fieldName string, value interface{}, to interface{}) error
	Update(data interface{}) error
	Save(data interface{}) error
	DeleteStruct(data interface{}) error
	Select(matchers ...q.Matcher) storm.Query
	Find(fieldName string, value interface{}, to interface{}, options ...func(q *index.Options)) error
	All(to interface{}, options ...func(*index.Options)) error
	//Begin starts a transaction, a writable one holds the single bolt writer lock until Commit or Rollback
	Begin(writable bool) (storm.Node, error)
	Close() error
}

var (
	once     sync.Once
	instance Db
)

func GetClient(dbFilePath string) (Db, error) {
	var err error

	once.Do(func() {
		fresh := !util.FileExists(dbFilePath)
		instance, err = storm.Open(dbFilePath, storm.BoltOptions(0600, &bolt.Options{Timeout: 10 * time.Second, ReadOnly: false}))
		if err != nil || !fresh {
			return
		}
		//init db structs
		err = initBuckets(instance)
	})

	return instance, err
}

func initBuckets(db Db) error {
	for _, data := range []interface{}{&model.Broadcast{}, &model.Recipient{}, &model.Contact{}, &model.ParkedReceipt{}} {
		if err := db.Init(data); err != nil {
			return err
		}
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, storm.ErrNotFound)
}
