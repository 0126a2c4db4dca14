package model

import (
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestAttachmentCodec(t *testing.T) {
	Convey("附件序列化与解析", t, func() {
		Convey("序列化再解析应得到等值对象", func() {
			orig := &Attachment{Type: "image", Name: "架构示意图", FileID: "file-abc123"}

			blob, err := EncodeAttachment(orig)
			So(err, ShouldBeNil)
			So(blob, ShouldNotBeEmpty)

			got, ok := DecodeAttachment(blob)
			So(ok, ShouldBeTrue)
			So(got, ShouldResemble, orig)
		})

		Convey("nil 附件存储为空 blob", func() {
			blob, err := EncodeAttachment(nil)
			So(err, ShouldBeNil)
			So(blob, ShouldEqual, "")
		})

		Convey("空 blob 表示没有附件而不是错误", func() {
			got, ok := DecodeAttachment("")
			So(ok, ShouldBeTrue)
			So(got, ShouldBeNil)
		})

		Convey("损坏的 blob 丢弃附件且不报错", func() {
			got, ok := DecodeAttachment("{not json at all")
			So(ok, ShouldBeFalse)
			So(got, ShouldBeNil)
		})

		Convey("合法 JSON 但缺少类型字段同样视为损坏", func() {
			got, ok := DecodeAttachment(`{"name":"图"}`)
			So(ok, ShouldBeFalse)
			So(got, ShouldBeNil)
		})
	})
}

func TestDeriveTitle(t *testing.T) {
	Convey("标题派生", t, func() {
		Convey("取第一条用户消息", func() {
			msgs := []WireMessage{
				{Role: RoleAssistant, Content: "你好，有什么可以帮你？"},
				{Role: RoleUser, Content: "帮我解释一下滑动窗口协议"},
				{Role: RoleUser, Content: "第二条不应被采用"},
			}
			So(DeriveTitle(msgs), ShouldEqual, "帮我解释一下滑动窗口协议")
		})

		Convey("超长消息截断到 50 字并追加省略号", func() {
			long := strings.Repeat("a", 80)
			got := DeriveTitle([]WireMessage{{Role: RoleUser, Content: long}})
			So(got, ShouldEqual, strings.Repeat("a", 50)+"…")
		})

		Convey("恰好 50 字不截断", func() {
			exact := strings.Repeat("b", 50)
			So(DeriveTitle([]WireMessage{{Role: RoleUser, Content: exact}}), ShouldEqual, exact)
		})

		Convey("没有用户消息时使用占位标题", func() {
			msgs := []WireMessage{{Role: RoleAssistant, Content: "自言自语"}}
			So(DeriveTitle(msgs), ShouldEqual, DefaultTitle)
			So(DeriveTitle(nil), ShouldEqual, DefaultTitle)
		})

		Convey("同一输入多次调用结果一致", func() {
			msgs := []WireMessage{{Role: RoleUser, Content: "determinism check"}}
			first := DeriveTitle(msgs)
			So(DeriveTitle(msgs), ShouldEqual, first)
		})
	})
}

func TestFilterSummaries(t *testing.T) {
	Convey("标题子串过滤", t, func() {
		list := []ConversationSummary{
			{ThreadID: "t1", Title: "Sliding Window Protocol"},
			{ThreadID: "t2", Title: "滑动窗口"},
			{ThreadID: "t3", Title: "TCP 拥塞控制"},
		}

		Convey("大小写不敏感", func() {
			got := FilterSummaries(list, "sliding WINDOW")
			So(got, ShouldHaveLength, 1)
			So(got[0].ThreadID, ShouldEqual, "t1")
		})

		Convey("空查询返回原列表", func() {
			So(FilterSummaries(list, "  "), ShouldHaveLength, 3)
		})

		Convey("无命中返回空列表而非 nil", func() {
			got := FilterSummaries(list, "quic")
			So(got, ShouldNotBeNil)
			So(got, ShouldBeEmpty)
		})
	})
}
