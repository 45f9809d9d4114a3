package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"todo-api/domain"
)

const (
	tasksPartition = "todo"
	edmInt64       = "Edm.Int64"
)

// TableStore persists tasks and the id counter in Azure Table storage.
type TableStore struct {
	taskTable    *aztables.Client
	counterTable *aztables.Client
}

// NewTableStore creates a TableStore from the given connection string.
func NewTableStore(connStr, tasksTable, counterTable string) (*TableStore, error) {
	svc, err := newTableService(connStr)
	if err != nil {
		return nil, err
	}
	return &TableStore{
		taskTable:    svc.NewClient(tasksTable),
		counterTable: svc.NewClient(counterTable),
	}, nil
}

func newTableService(connStr string) (*aztables.ServiceClient, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	return aztables.NewServiceClientFromConnectionString(connStr, &opts)
}

type entityKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

// taskEntity mirrors the id as an Edm.Int64 column so the table can be
// filtered and read without parsing RowKey. RowKey stays authoritative.
type taskEntity struct {
	entityKeys
	ID          int64  `json:"ID,string"`
	IDType      string `json:"ID@odata.type"`
	Task        string `json:"Task"`
	Description string `json:"Description"`
	Complete    bool   `json:"Complete"`
}

type taskUpdate struct {
	entityKeys
	Task        *string `json:"Task,omitempty"`
	Description *string `json:"Description,omitempty"`
	Complete    *bool   `json:"Complete,omitempty"`
}

type counterEntity struct {
	entityKeys
	Count     int64  `json:"Count,string"`
	CountType string `json:"Count@odata.type"`
}

// rowKey pads ids so the lexical RowKey order matches numeric order.
func rowKey(id int64) string {
	return fmt.Sprintf("%020d", id)
}

func encodeTask(t domain.Task) ([]byte, error) {
	return json.Marshal(taskEntity{
		entityKeys:  entityKeys{PartitionKey: tasksPartition, RowKey: rowKey(t.ID)},
		ID:          t.ID,
		IDType:      edmInt64,
		Task:        t.Task,
		Description: t.Description,
		Complete:    t.Complete,
	})
}

func decodeTask(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	id, err := strconv.ParseInt(ent.RowKey, 10, 64)
	if err != nil {
		return domain.Task{}, fmt.Errorf("bad row key %q: %w", ent.RowKey, err)
	}
	return domain.Task{
		ID:          id,
		Task:        ent.Task,
		Description: ent.Description,
		Complete:    ent.Complete,
	}, nil
}

func encodePatch(id int64, p domain.Patch) ([]byte, error) {
	return json.Marshal(taskUpdate{
		entityKeys:  entityKeys{PartitionKey: tasksPartition, RowKey: rowKey(id)},
		Task:        p.Task,
		Description: p.Description,
		Complete:    p.Complete,
	})
}

func encodeCounter(value int64) ([]byte, error) {
	return json.Marshal(counterEntity{
		entityKeys: entityKeys{PartitionKey: domain.CounterKey, RowKey: domain.CounterKey},
		Count:      value,
		CountType:  edmInt64,
	})
}

// ScanTasks lists every entity in the tasks partition.
func (s *TableStore) ScanTasks(ctx context.Context) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + tasksPartition + "'"
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			t, err := decodeTask(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// ScanCounter reads the singleton counter entity.
func (s *TableStore) ScanCounter(ctx context.Context) (int64, bool, error) {
	ent, err := s.counterTable.GetEntity(ctx, domain.CounterKey, domain.CounterKey, nil)
	if err != nil {
		if isNotFound(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	var c counterEntity
	if err := json.Unmarshal(ent.Value, &c); err != nil {
		return 0, false, err
	}
	return c.Count, true, nil
}

// InsertTask adds a new task entity.
func (s *TableStore) InsertTask(ctx context.Context, t domain.Task) error {
	payload, err := encodeTask(t)
	if err == nil {
		_, err = s.taskTable.AddEntity(ctx, payload, nil)
	}
	return err
}

// UpdateTask merges the patch into an existing task entity.
func (s *TableStore) UpdateTask(ctx context.Context, id int64, p domain.Patch) error {
	payload, err := encodePatch(id, p)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	if isNotFound(err) {
		return nil
	}
	return err
}

// DeleteTask removes the task entity.
func (s *TableStore) DeleteTask(ctx context.Context, id int64) error {
	_, err := s.taskTable.DeleteEntity(ctx, tasksPartition, rowKey(id), nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

// UpsertCounter replaces the singleton counter entity.
func (s *TableStore) UpsertCounter(ctx context.Context, value int64) error {
	payload, err := encodeCounter(value)
	if err == nil {
		_, err = s.counterTable.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	}
	return err
}

// CreateTables creates the tasks and counter tables if they do not exist.
func (s *TableStore) CreateTables(ctx context.Context) error {
	for _, c := range []*aztables.Client{s.taskTable, s.counterTable} {
		if _, err := c.CreateTable(ctx, nil); err != nil && !isTableExists(err) {
			return err
		}
	}
	return nil
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

func isTableExists(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)
}
