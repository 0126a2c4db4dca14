package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"yuzu/internal/config"
	"yuzu/internal/model"
)

func newStubServer(t *testing.T) (*Client, *http.ServeMux) {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := New(&config.ClientConfig{
		ServerURL: srv.URL,
		Token:     "test-token",
		Timeout:   5 * time.Second,
	})
	return c, mux
}

func TestClientChat(t *testing.T) {
	ctx := context.Background()

	Convey("对话请求", t, func() {
		c, mux := newStubServer(t)

		Convey("携带认证头并正确编解码", func() {
			var gotAuth string
			var gotReq model.ChatRequest
			mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
				gotAuth = r.Header.Get("Authorization")
				_ = json.NewDecoder(r.Body).Decode(&gotReq)

				_ = json.NewEncoder(w).Encode(model.ChatResponse{
					Message:  "你好呀",
					ThreadID: "th-1",
				})
			})

			resp, err := c.Chat(ctx, "", "你好")
			So(err, ShouldBeNil)
			So(gotAuth, ShouldEqual, "Bearer test-token")
			So(gotReq.Message, ShouldEqual, "你好")
			So(resp.Message, ShouldEqual, "你好呀")
			So(resp.ThreadID, ShouldEqual, "th-1")
		})

		Convey("服务端错误信封映射为可读错误", func() {
			mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				_ = json.NewEncoder(w).Encode(model.ErrorResponse{
					Code:    50201,
					Message: "Assistant service failed",
				})
			})

			_, err := c.Chat(ctx, "", "你好")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "50201")
		})
	})
}

func TestClientHistory(t *testing.T) {
	ctx := context.Background()

	Convey("历史请求", t, func() {
		c, mux := newStubServer(t)

		Convey("列表与详情", func() {
			mux.HandleFunc("GET /api/chat/history", func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(model.HistoryListResponse{
					Conversations: []model.ConversationSummary{
						{ThreadID: "th-1", Title: "周计划", MessageCount: 2},
					},
					Total: 1,
				})
			})
			mux.HandleFunc("GET /api/chat/history/th-1", func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(model.HistoryDetailResponse{
					Conversation: model.ConversationDetail{
						ThreadID: "th-1",
						Title:    "周计划",
						Messages: []model.Message{
							{Role: model.RoleUser, Content: "帮我列一个周计划"},
						},
					},
				})
			})

			summaries, err := c.ListHistory(ctx)
			So(err, ShouldBeNil)
			So(summaries, ShouldHaveLength, 1)
			So(summaries[0].Title, ShouldEqual, "周计划")

			detail, err := c.GetHistory(ctx, "th-1")
			So(err, ShouldBeNil)
			So(detail.Messages, ShouldHaveLength, 1)
		})

		Convey("404 映射为 ErrNotFound", func() {
			mux.HandleFunc("GET /api/chat/history/th-gone", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				_ = json.NewEncoder(w).Encode(model.ErrorResponse{Code: 40401, Message: "Conversation not found"})
			})

			_, err := c.GetHistory(ctx, "th-gone")
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
		})

		Convey("删除走 DELETE 方法", func() {
			var method string
			mux.HandleFunc("/api/chat/history/th-1", func(w http.ResponseWriter, r *http.Request) {
				method = r.Method
				_ = json.NewEncoder(w).Encode(map[string]any{"code": 0, "message": "Conversation deleted"})
			})

			So(c.DeleteHistory(ctx, "th-1"), ShouldBeNil)
			So(method, ShouldEqual, http.MethodDelete)
		})
	})
}
