package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"yuzu/internal/model"
)

// fakeConvStore 内存对话存储
type fakeConvStore struct {
	mu          sync.Mutex
	convs       []*model.Conversation
	createErr   error
	addCountErr error
}

func (f *fakeConvStore) Create(ctx context.Context, conv *model.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	conv.ID = primitive.NewObjectID()
	now := time.Now()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	cp := *conv
	f.convs = append(f.convs, &cp)
	return nil
}

func (f *fakeConvStore) FindByThread(ctx context.Context, userID, threadID string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.convs {
		if c.UserID == userID && c.ThreadID == threadID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, mongo.ErrNoDocuments
}

func (f *fakeConvStore) ListByUserID(ctx context.Context, userID string) ([]*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Conversation
	for _, c := range f.convs {
		if c.UserID == userID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (f *fakeConvStore) AddMessageCount(ctx context.Context, id primitive.ObjectID, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addCountErr != nil {
		return f.addCountErr
	}
	for _, c := range f.convs {
		if c.ID == id {
			c.MessageCount += delta
			c.UpdatedAt = time.Now()
			return nil
		}
	}
	return mongo.ErrNoDocuments
}

func (f *fakeConvStore) Delete(ctx context.Context, userID, threadID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.convs {
		if c.UserID == userID && c.ThreadID == threadID {
			f.convs = append(f.convs[:i], f.convs[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// fakeMsgStore 内存消息存储
type fakeMsgStore struct {
	mu        sync.Mutex
	msgs      []model.Message
	insertErr error
}

func (f *fakeMsgStore) InsertBatch(ctx context.Context, msgs []model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	for _, m := range msgs {
		m.ID = primitive.NewObjectID()
		f.msgs = append(f.msgs, m)
	}
	return nil
}

func (f *fakeMsgStore) ListByConversation(ctx context.Context, convID primitive.ObjectID) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Message
	for _, m := range f.msgs {
		if m.ConversationID == convID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (f *fakeMsgStore) TailByConversation(ctx context.Context, convID primitive.ObjectID, n int) ([]model.Message, error) {
	all, err := f.ListByConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

func (f *fakeMsgStore) CountByConversation(ctx context.Context, convID primitive.ObjectID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, m := range f.msgs {
		if m.ConversationID == convID {
			n++
		}
	}
	return n, nil
}

func (f *fakeMsgStore) DeleteByConversation(ctx context.Context, convID primitive.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.msgs[:0]
	for _, m := range f.msgs {
		if m.ConversationID != convID {
			kept = append(kept, m)
		}
	}
	f.msgs = kept
	return nil
}

var errCacheMiss = errors.New("cache miss")

// fakeCache 内存缓存
type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte)}
}

func (f *fakeCache) Get(ctx context.Context, key string, dest any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.data[key]
	if !ok {
		return errCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (f *fakeCache) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.data[key] = raw
	return nil
}

func (f *fakeCache) Delete(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeCache) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	return ok, nil
}

func newTestHistoryService() (*HistoryService, *fakeConvStore, *fakeMsgStore, *fakeCache) {
	convs := &fakeConvStore{}
	msgs := &fakeMsgStore{}
	c := newFakeCache()
	return NewHistoryService(convs, msgs, c, nil), convs, msgs, c
}

func pair(userText, assistantText string) []model.WireMessage {
	return []model.WireMessage{
		{Role: model.RoleUser, Content: userText},
		{Role: model.RoleAssistant, Content: assistantText},
	}
}

func TestHistoryServiceSave(t *testing.T) {
	ctx := context.Background()

	Convey("保存消息", t, func() {
		svc, convs, msgs, _ := newTestHistoryService()

		Convey("非法输入被拒绝", func() {
			So(svc.Save(ctx, "u1", "", "", pair("a", "b")), ShouldEqual, ErrInvalidMessages)
			So(svc.Save(ctx, "u1", "th-1", "", nil), ShouldEqual, ErrInvalidMessages)
			So(svc.Save(ctx, "u1", "th-1", "", []model.WireMessage{
				{Role: "system", Content: "x"},
			}), ShouldEqual, ErrInvalidMessages)
		})

		Convey("首次保存创建对话并从首条用户消息派生标题", func() {
			err := svc.Save(ctx, "u1", "th-1", "", pair("帮我规划下周的行程", "好的"))
			So(err, ShouldBeNil)

			conv, err := convs.FindByThread(ctx, "u1", "th-1")
			So(err, ShouldBeNil)
			So(conv.Title, ShouldEqual, "帮我规划下周的行程")
			So(conv.MessageCount, ShouldEqual, 2)
		})

		Convey("标题只在创建时固定，后续保存不再变动", func() {
			So(svc.Save(ctx, "u1", "th-1", "", pair("第一个问题", "回答一")), ShouldBeNil)
			So(svc.Save(ctx, "u1", "th-1", "", pair("完全不同的第二个问题", "回答二")), ShouldBeNil)

			conv, err := convs.FindByThread(ctx, "u1", "th-1")
			So(err, ShouldBeNil)
			So(conv.Title, ShouldEqual, "第一个问题")
		})

		Convey("调用方给定的超长标题会被截断", func() {
			long := make([]rune, 0, 60)
			for i := 0; i < 60; i++ {
				long = append(long, '标')
			}
			So(svc.Save(ctx, "u1", "th-1", string(long), pair("a", "b")), ShouldBeNil)

			conv, err := convs.FindByThread(ctx, "u1", "th-1")
			So(err, ShouldBeNil)
			So([]rune(conv.Title), ShouldHaveLength, model.TitleMaxLen+1)
		})

		Convey("message_count 与消息行数一致", func() {
			So(svc.Save(ctx, "u1", "th-1", "", pair("一", "1")), ShouldBeNil)
			So(svc.Save(ctx, "u1", "th-1", "", pair("二", "2")), ShouldBeNil)
			So(svc.Save(ctx, "u1", "th-1", "", pair("三", "3")), ShouldBeNil)

			conv, err := convs.FindByThread(ctx, "u1", "th-1")
			So(err, ShouldBeNil)
			rows, err := msgs.ListByConversation(ctx, conv.ID)
			So(err, ShouldBeNil)
			So(conv.MessageCount, ShouldEqual, 6)
			So(rows, ShouldHaveLength, 6)
		})

		Convey("相同批次重复提交不产生重复行", func() {
			p := pair("你好", "你好，有什么可以帮你")
			So(svc.Save(ctx, "u1", "th-1", "", p), ShouldBeNil)
			So(svc.Save(ctx, "u1", "th-1", "", p), ShouldBeNil)

			conv, err := convs.FindByThread(ctx, "u1", "th-1")
			So(err, ShouldBeNil)
			So(conv.MessageCount, ShouldEqual, 2)
		})

		Convey("重叠批次只追加新增部分", func() {
			So(svc.Save(ctx, "u1", "th-1", "", pair("一", "1")), ShouldBeNil)

			overlapping := append(pair("一", "1"), pair("二", "2")...)
			So(svc.Save(ctx, "u1", "th-1", "", overlapping), ShouldBeNil)

			conv, err := convs.FindByThread(ctx, "u1", "th-1")
			So(err, ShouldBeNil)
			So(conv.MessageCount, ShouldEqual, 4)

			rows, err := msgs.ListByConversation(ctx, conv.ID)
			So(err, ShouldBeNil)
			So(rows[2].Content, ShouldEqual, "二")
			So(rows[3].Content, ShouldEqual, "2")
		})

		Convey("计数更新失败后的重试不产生重复行", func() {
			// 模拟消息写入成功而计数更新失败的部分失败，随后按网关的方式重试同一批次
			p := pair("你好", "你好呀")
			convs.addCountErr = errors.New("update lost")
			So(svc.Save(ctx, "u1", "th-1", "", p), ShouldNotBeNil)

			convs.addCountErr = nil
			So(svc.Save(ctx, "u1", "th-1", "", p), ShouldBeNil)

			conv, err := convs.FindByThread(ctx, "u1", "th-1")
			So(err, ShouldBeNil)
			rows, err := msgs.ListByConversation(ctx, conv.ID)
			So(err, ShouldBeNil)
			So(rows, ShouldHaveLength, 2)
			So(conv.MessageCount, ShouldEqual, 2)

			Convey("后续追加的写入序号不重复", func() {
				So(svc.Save(ctx, "u1", "th-1", "", pair("继续", "收到")), ShouldBeNil)

				conv, err := convs.FindByThread(ctx, "u1", "th-1")
				So(err, ShouldBeNil)
				So(conv.MessageCount, ShouldEqual, 4)

				rows, err := msgs.ListByConversation(ctx, conv.ID)
				So(err, ShouldBeNil)
				So(rows, ShouldHaveLength, 4)
				for i, row := range rows {
					So(row.Seq, ShouldEqual, i)
				}
			})
		})

		Convey("消息顺序按写入序号稳定", func() {
			So(svc.Save(ctx, "u1", "th-1", "", pair("一", "1")), ShouldBeNil)
			So(svc.Save(ctx, "u1", "th-1", "", pair("二", "2")), ShouldBeNil)

			conv, err := convs.FindByThread(ctx, "u1", "th-1")
			So(err, ShouldBeNil)
			rows, err := msgs.ListByConversation(ctx, conv.ID)
			So(err, ShouldBeNil)
			for i, row := range rows {
				So(row.Seq, ShouldEqual, i)
			}
		})
	})
}

func TestHistoryServiceGet(t *testing.T) {
	ctx := context.Background()

	Convey("读取对话", t, func() {
		svc, convs, msgs, _ := newTestHistoryService()
		So(svc.Save(ctx, "u1", "th-1", "", pair("你好", "你好呀")), ShouldBeNil)

		Convey("返回按顺序的全部消息", func() {
			detail, err := svc.Get(ctx, "u1", "th-1")
			So(err, ShouldBeNil)
			So(detail.ThreadID, ShouldEqual, "th-1")
			So(detail.Messages, ShouldHaveLength, 2)
			So(detail.Messages[0].Role, ShouldEqual, model.RoleUser)
			So(detail.Messages[1].Role, ShouldEqual, model.RoleAssistant)
		})

		Convey("非属主访问与不存在线程同样返回 ErrNotFound", func() {
			_, err := svc.Get(ctx, "u2", "th-1")
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)

			_, err = svc.Get(ctx, "u1", "th-none")
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
		})

		Convey("附件随消息一起返回", func() {
			att := &model.Attachment{Type: "image", Name: "illustration-1", FileID: "file-1"}
			So(svc.Save(ctx, "u1", "th-2", "", []model.WireMessage{
				{Role: model.RoleUser, Content: "画一张图"},
				{Role: model.RoleAssistant, Content: "画好了", Attachment: att},
			}), ShouldBeNil)

			detail, err := svc.Get(ctx, "u1", "th-2")
			So(err, ShouldBeNil)
			So(detail.Messages[1].Attachment, ShouldNotBeNil)
			So(detail.Messages[1].Attachment.Name, ShouldEqual, "illustration-1")
		})

		Convey("损坏的附件 blob 只丢附件，正文照常返回", func() {
			conv, err := convs.FindByThread(ctx, "u1", "th-1")
			So(err, ShouldBeNil)
			So(msgs.InsertBatch(ctx, []model.Message{{
				ConversationID: conv.ID,
				Seq:            2,
				Role:           model.RoleAssistant,
				Content:        "正文完好",
				AttachmentBlob: "{not-json",
				CreatedAt:      time.Now(),
			}}), ShouldBeNil)

			detail, err := svc.Get(ctx, "u1", "th-1")
			So(err, ShouldBeNil)
			last := detail.Messages[len(detail.Messages)-1]
			So(last.Content, ShouldEqual, "正文完好")
			So(last.Attachment, ShouldBeNil)
		})
	})
}

func TestHistoryServiceDelete(t *testing.T) {
	ctx := context.Background()

	Convey("删除对话", t, func() {
		svc, convs, msgs, _ := newTestHistoryService()
		So(svc.Save(ctx, "u1", "th-1", "", pair("你好", "你好呀")), ShouldBeNil)

		Convey("对话与消息一并删除，不留孤儿", func() {
			conv, err := convs.FindByThread(ctx, "u1", "th-1")
			So(err, ShouldBeNil)

			So(svc.Delete(ctx, "u1", "th-1"), ShouldBeNil)

			_, err = convs.FindByThread(ctx, "u1", "th-1")
			So(errors.Is(err, mongo.ErrNoDocuments), ShouldBeTrue)
			rows, err := msgs.ListByConversation(ctx, conv.ID)
			So(err, ShouldBeNil)
			So(rows, ShouldBeEmpty)
		})

		Convey("删除不存在的线程是幂等成功", func() {
			So(svc.Delete(ctx, "u1", "th-none"), ShouldBeNil)
			So(svc.Delete(ctx, "u1", "th-1"), ShouldBeNil)
			So(svc.Delete(ctx, "u1", "th-1"), ShouldBeNil)
		})

		Convey("非属主删除不影响他人数据", func() {
			So(svc.Delete(ctx, "u2", "th-1"), ShouldBeNil)
			_, err := convs.FindByThread(ctx, "u1", "th-1")
			So(err, ShouldBeNil)
		})
	})
}

func TestHistoryServiceList(t *testing.T) {
	ctx := context.Background()

	Convey("对话列表", t, func() {
		svc, _, _, _ := newTestHistoryService()
		So(svc.Save(ctx, "u1", "th-1", "", pair("周末去哪玩", "建议去爬山")), ShouldBeNil)
		So(svc.Save(ctx, "u1", "th-2", "", pair("帮我写份周报", "好的")), ShouldBeNil)
		So(svc.Save(ctx, "u2", "th-9", "", pair("别人的对话", "嗯")), ShouldBeNil)

		Convey("只返回本人的对话", func() {
			summaries, err := svc.List(ctx, "u1")
			So(err, ShouldBeNil)
			So(summaries, ShouldHaveLength, 2)
			for _, s := range summaries {
				So(s.ThreadID, ShouldNotEqual, "th-9")
			}
		})

		Convey("标题子串过滤大小写不敏感", func() {
			summaries, err := svc.Search(ctx, "u1", "周报")
			So(err, ShouldBeNil)
			So(summaries, ShouldHaveLength, 1)
			So(summaries[0].ThreadID, ShouldEqual, "th-2")

			none, err := svc.Search(ctx, "u1", "不存在的词")
			So(err, ShouldBeNil)
			So(none, ShouldBeEmpty)
		})

		Convey("保存失败标记出现在列表中", func() {
			svc.MarkSaveFailed(ctx, "u1", "th-1")

			summaries, err := svc.List(ctx, "u1")
			So(err, ShouldBeNil)
			for _, s := range summaries {
				if s.ThreadID == "th-1" {
					So(s.SaveFailed, ShouldBeTrue)
				} else {
					So(s.SaveFailed, ShouldBeFalse)
				}
			}

			Convey("成功保存后标记被清除", func() {
				So(svc.Save(ctx, "u1", "th-1", "", pair("继续", "收到")), ShouldBeNil)
				summaries, err := svc.List(ctx, "u1")
				So(err, ShouldBeNil)
				for _, s := range summaries {
					So(s.SaveFailed, ShouldBeFalse)
				}
			})
		})
	})
}
