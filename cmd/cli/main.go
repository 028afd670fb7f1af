package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"hitl-agent/internal/agent/orchestrator"
	"hitl-agent/internal/api/http/middleware"
	"hitl-agent/internal/runtime/session"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type cliOptions struct {
	apiURL    string
	token     string
	userID    string
	transport http.RoundTripper
}

func (o *cliOptions) client() *client {
	return newClient(o.apiURL, o.token, o.transport)
}

func newRootCmd() *cobra.Command {
	return buildRootCmd(&cliOptions{})
}

func buildRootCmd(opts *cliOptions) *cobra.Command {
	root := &cobra.Command{
		Use:           "hitl",
		Short:         "hitl - 人工审核智能体命令行",
		Long:          "hitl 通过 HTTP API 驱动会话：发起提问、审核工具调用、查询会话与写入长期记忆。",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.apiURL, "api-url", apiBaseURL(), "API 地址（环境变量 HITL_API_URL）")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("HITL_TOKEN"), "Bearer token（环境变量 HITL_TOKEN）")
	root.PersistentFlags().StringVarP(&opts.userID, "user", "u", os.Getenv("HITL_USER"), "用户 ID（环境变量 HITL_USER）")

	root.AddCommand(
		newInvokeCmd(opts),
		newResumeCmd(opts),
		newStatusCmd(opts),
		newSessionsCmd(opts),
		newActiveCmd(opts),
		newDeleteCmd(opts),
		newRememberCmd(opts),
		newInfoCmd(opts),
		newTokenCmd(opts),
	)
	return root
}

func requireUser(opts *cliOptions) error {
	if opts.userID == "" {
		return errors.New("缺少用户 ID：使用 --user 或设置 HITL_USER")
	}
	return nil
}

func newInvokeCmd(opts *cliOptions) *cobra.Command {
	var system string
	var review bool
	cmd := &cobra.Command{
		Use:   "invoke <session_id> <query...>",
		Short: "发起一次提问",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(opts); err != nil {
				return err
			}
			c := opts.client()
			res, err := c.invoke(cmd.Context(), opts.userID, args[0], strings.Join(args[1:], " "), system)
			if err != nil {
				return err
			}
			if review {
				return reviewLoop(cmd, c, opts.userID, res)
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVar(&system, "system", "", "新会话的系统提示")
	cmd.Flags().BoolVar(&review, "review", false, "遇到待审核工具调用时交互式审核直至运行结束")
	return cmd
}

func newResumeCmd(opts *cliOptions) *cobra.Command {
	var acceptAll, rejectAll bool
	var feedback string
	cmd := &cobra.Command{
		Use:   "resume <session_id>",
		Short: "对待审核的工具调用给出决策并恢复运行",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(opts); err != nil {
				return err
			}
			if acceptAll && rejectAll {
				return errors.New("--accept-all 与 --reject-all 不能同时使用")
			}
			c := opts.client()
			st, err := c.status(cmd.Context(), opts.userID, args[0], false)
			if err != nil {
				return err
			}
			if st.PendingReview == nil {
				return fmt.Errorf("会话 %s 没有待审核的工具调用（状态 %s）", args[0], st.Status)
			}
			var decisions []decision
			switch {
			case acceptAll:
				decisions = uniformDecisions(st.PendingReview, "accept", "")
			case rejectAll:
				decisions = uniformDecisions(st.PendingReview, "reject", feedback)
			default:
				decisions, err = promptDecisions(cmd.InOrStdin(), cmd.OutOrStdout(), st.PendingReview)
				if err != nil {
					return err
				}
			}
			res, err := c.resume(cmd.Context(), opts.userID, args[0], st.PendingReview.ID, decisions)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&acceptAll, "accept-all", false, "接受全部待审核调用")
	cmd.Flags().BoolVar(&rejectAll, "reject-all", false, "拒绝全部待审核调用")
	cmd.Flags().StringVar(&feedback, "feedback", "", "拒绝时的反馈")
	return cmd
}

func newStatusCmd(opts *cliOptions) *cobra.Command {
	var transcript, asJSON bool
	cmd := &cobra.Command{
		Use:   "status <session_id>",
		Short: "查询会话状态",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(opts); err != nil {
				return err
			}
			st, err := opts.client().status(cmd.Context(), opts.userID, args[0], transcript)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				fmt.Fprintln(out, prettyJSON(st))
				return nil
			}
			fmt.Fprintf(out, "Session: %s\nStatus: %s\nVersion: %d\nTurns: %d\nMessages: %d\nExpires: %s\n",
				st.SessionID, st.Status, st.Version, st.RunTurns, st.TranscriptLength, st.ExpiresAt.Format(time.RFC3339))
			if st.PendingReview != nil {
				printPending(out, st.PendingReview)
			}
			if st.Error != nil {
				fmt.Fprintf(out, "Error: %s\n", prettyJSON(st.Error))
			}
			for _, m := range st.Transcript {
				printMessage(out, &m)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&transcript, "transcript", false, "同时输出完整对话记录")
	cmd.Flags().BoolVar(&asJSON, "json", false, "以 JSON 输出")
	return cmd
}

func newSessionsCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "列出用户的会话",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(opts); err != nil {
				return err
			}
			list, err := opts.client().sessions(cmd.Context(), opts.userID)
			if err != nil {
				return err
			}
			if len(list.SessionIDs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions")
				return nil
			}
			for _, id := range list.SessionIDs {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func newActiveCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "active",
		Short: "查询用户当前正在运行的会话",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(opts); err != nil {
				return err
			}
			a, err := opts.client().active(cmd.Context(), opts.userID)
			if err != nil {
				return err
			}
			if a.ActiveSessionID == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "No active session")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), a.ActiveSessionID)
			return nil
		},
	}
}

func newDeleteCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session_id>",
		Short: "删除会话",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(opts); err != nil {
				return err
			}
			if err := opts.client().deleteSession(cmd.Context(), opts.userID, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

func newRememberCmd(opts *cliOptions) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "remember <content...>",
		Short: "写入一条长期记忆",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(opts); err != nil {
				return err
			}
			out, err := opts.client().remember(cmd.Context(), opts.userID, strings.Join(args, " "), sessionID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), prettyJSON(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "关联的会话 ID")
	return cmd
}

func newInfoCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "查看服务信息",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := opts.client().info(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), prettyJSON(info))
			return nil
		},
	}
}

// newTokenCmd 登录接口关闭，token 由持有 jwt_key 的运维在本地签发
func newTokenCmd(opts *cliOptions) *cobra.Command {
	var key string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "使用 JWT 密钥为用户签发访问 token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(opts); err != nil {
				return err
			}
			if key == "" {
				key = os.Getenv("HITL_JWT_KEY")
			}
			if key == "" {
				return errors.New("缺少 JWT 密钥：使用 --key 或设置 HITL_JWT_KEY")
			}
			mw, err := middleware.NewJWTAuth([]byte(key), ttl, ttl)
			if err != nil {
				return err
			}
			token, expire, err := middleware.IssueToken(mw, opts.userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expire.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "JWT 签名密钥（环境变量 HITL_JWT_KEY）")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token 有效期")
	return cmd
}

// reviewLoop 交互式审核，直到运行不再停在 AWAITING_REVIEW
func reviewLoop(cmd *cobra.Command, c *client, userID string, res *orchestrator.Result) error {
	out := cmd.OutOrStdout()
	in := bufio.NewReader(cmd.InOrStdin())
	for res.Status == session.StatusAwaitingReview && res.PendingReview != nil {
		decisions, err := promptDecisions(in, out, res.PendingReview)
		if err != nil {
			return err
		}
		res, err = c.resume(cmd.Context(), userID, res.SessionID, res.PendingReview.ID, decisions)
		if err != nil {
			return err
		}
	}
	printResult(out, res)
	return nil
}

func uniformDecisions(p *session.PendingInterrupt, action, feedback string) []decision {
	decisions := make([]decision, 0, len(p.Calls))
	for _, call := range p.Calls {
		if call.Executed {
			continue
		}
		decisions = append(decisions, decision{CallID: call.Proposal.CallID, Action: action, FeedbackText: feedback})
	}
	return decisions
}

// promptDecisions 逐个询问未执行的调用：a 接受，r 拒绝，e 修改参数，s 直接回复
func promptDecisions(r io.Reader, out io.Writer, p *session.PendingInterrupt) ([]decision, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	readLine := func() (string, error) {
		line, err := br.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return "", fmt.Errorf("读取输入失败: %w", err)
		}
		return strings.TrimSpace(line), nil
	}

	printPending(out, p)
	var decisions []decision
	for _, call := range p.Calls {
		if call.Executed {
			continue
		}
		prop := call.Proposal
		for {
			fmt.Fprintf(out, "%s %s %s\n[a]ccept / [r]eject / [e]dit / re[s]pond: ",
				prop.CallID, prop.ToolName, compactJSON(prop.Arguments))
			choice, err := readLine()
			if err != nil {
				return nil, err
			}
			d := decision{CallID: prop.CallID}
			switch strings.ToLower(choice) {
			case "a", "accept":
				d.Action = "accept"
			case "r", "reject":
				d.Action = "reject"
				fmt.Fprint(out, "feedback: ")
				if d.FeedbackText, err = readLine(); err != nil {
					return nil, err
				}
			case "e", "edit":
				d.Action = "edit"
				fmt.Fprint(out, "arguments (JSON object): ")
				raw, err := readLine()
				if err != nil {
					return nil, err
				}
				if err := json.Unmarshal([]byte(raw), &d.EditedArguments); err != nil || d.EditedArguments == nil {
					fmt.Fprintln(out, "invalid JSON object, try again")
					continue
				}
			case "s", "respond":
				d.Action = "respond"
				fmt.Fprint(out, "response: ")
				if d.FeedbackText, err = readLine(); err != nil {
					return nil, err
				}
			default:
				fmt.Fprintln(out, "unknown choice")
				continue
			}
			decisions = append(decisions, d)
			break
		}
	}
	return decisions, nil
}

func printResult(out io.Writer, res *orchestrator.Result) {
	fmt.Fprintf(out, "Status: %s (version %d)\n", res.Status, res.Version)
	if res.Replayed {
		fmt.Fprintln(out, "Replayed: decisions were already applied")
	}
	if res.AssistantMessage != nil {
		printMessage(out, res.AssistantMessage)
	}
	if res.PendingReview != nil {
		printPending(out, res.PendingReview)
	}
	if res.Error != nil {
		fmt.Fprintf(out, "Error: %s\n", prettyJSON(res.Error))
	}
}

func printPending(out io.Writer, p *session.PendingInterrupt) {
	fmt.Fprintf(out, "Pending review %s:\n", p.ID)
	for _, call := range p.Calls {
		mark := " "
		if call.Executed {
			mark = "x"
		}
		fmt.Fprintf(out, "  [%s] %s %s %s (%s)\n", mark, call.Proposal.CallID, call.Proposal.ToolName,
			compactJSON(call.Proposal.Arguments), call.Policy)
	}
}

func printMessage(out io.Writer, m *session.Message) {
	switch {
	case len(m.ToolCalls) > 0:
		names := make([]string, 0, len(m.ToolCalls))
		for _, tc := range m.ToolCalls {
			names = append(names, tc.ToolName)
		}
		fmt.Fprintf(out, "%s: %s [tools: %s]\n", m.Role, m.Content, strings.Join(names, ", "))
	case m.ToolCallID != "":
		fmt.Fprintf(out, "%s(%s/%s): %s\n", m.Role, m.Name, m.Resolution, m.Content)
	default:
		fmt.Fprintf(out, "%s: %s\n", m.Role, m.Content)
	}
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
