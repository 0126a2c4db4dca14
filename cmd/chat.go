package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"yuzu/internal/client"
	"yuzu/internal/model"
	"yuzu/internal/session"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat client",
	Long: `Open an interactive chat session against a running Yuzu server.

Commands inside the session:
  /new             start a fresh conversation
  /list            list saved conversations
  /open <thread>   load a saved conversation
  /delete <thread> delete a conversation
  /quit            exit`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)

	flags := chatCmd.Flags()
	flags.String("server", "http://localhost:8080", "server base URL")
	flags.String("token", "", "bearer token (omit for an ephemeral session)")

	_ = viper.BindPFlag("client.server_url", flags.Lookup("server"))
	_ = viper.BindPFlag("client.token", flags.Lookup("token"))
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	api := client.New(&cfg.Client)
	cache := session.NewCache(api)
	cache.StartNew()

	if cfg.Client.Token == "" {
		fmt.Println("未提供 token，对话不会被保存")
	}
	fmt.Println("输入消息开始对话，/quit 退出")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := runChatCommand(cmd.Context(), api, cache, line); quit {
				return nil
			}
			continue
		}

		sendMessage(cmd.Context(), cache, line)
	}
}

func runChatCommand(ctx context.Context, api *client.Client, cache *session.Cache, line string) (quit bool) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true

	case "/new":
		cache.StartNew()
		fmt.Println("已开始新对话")

	case "/list":
		summaries, err := api.ListHistory(ctx)
		if err != nil {
			fmt.Println("获取列表失败:", err)
			return false
		}
		if len(summaries) == 0 {
			fmt.Println("暂无历史对话")
			return false
		}
		for _, s := range summaries {
			marker := ""
			if s.SaveFailed {
				marker = "  [保存失败]"
			}
			fmt.Printf("%s  %s (%d 条)%s\n", s.ThreadID, s.Title, s.MessageCount, marker)
		}

	case "/open":
		if len(fields) < 2 {
			fmt.Println("用法: /open <thread>")
			return false
		}
		if err := cache.Load(ctx, fields[1]); err != nil {
			if errors.Is(err, client.ErrNotFound) {
				fmt.Println("对话不存在")
			} else {
				fmt.Println("加载失败:", err)
			}
			return false
		}
		fmt.Printf("已打开「%s」\n", cache.Title())
		for _, e := range cache.Entries() {
			printEntry(e)
		}

	case "/delete":
		if len(fields) < 2 {
			fmt.Println("用法: /delete <thread>")
			return false
		}
		if err := api.DeleteHistory(ctx, fields[1]); err != nil {
			fmt.Println("删除失败:", err)
			return false
		}
		if cache.ThreadID() == fields[1] {
			cache.StartNew()
		}
		fmt.Println("已删除")

	default:
		fmt.Println("未知命令:", fields[0])
	}
	return false
}

func sendMessage(ctx context.Context, cache *session.Cache, text string) {
	if err := cache.Send(ctx, text); err != nil {
		if errors.Is(err, session.ErrEmptyInput) || errors.Is(err, session.ErrBusy) {
			fmt.Println(err)
		}
		// 其他错误已作为提示条目进入会话
	}

	entries := cache.Entries()
	if len(entries) == 0 {
		return
	}
	printEntry(entries[len(entries)-1])
}

func printEntry(e session.Entry) {
	prefix := "你"
	if e.Role != model.RoleUser {
		prefix = "助手"
	}
	if e.Notice {
		prefix = "提示"
	}
	fmt.Printf("[%s] %s\n", prefix, e.Content)
	if e.Attachment != nil {
		fmt.Printf("      附件: %s (%s)\n", e.Attachment.Name, e.Attachment.Type)
	}
}
