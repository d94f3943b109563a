package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/R3E-Network/sealed_scores/internal/app/domain/score"
	"github.com/R3E-Network/sealed_scores/internal/app/notify"
	"github.com/R3E-Network/sealed_scores/internal/app/services/scores"
	"github.com/R3E-Network/sealed_scores/internal/crypto/sealing"
	"github.com/R3E-Network/sealed_scores/internal/httputil"
)

func (g *globalFlags) client() *httputil.ServiceClient {
	token := g.token
	return httputil.NewServiceClient(httputil.ServiceClientConfig{
		BaseURL: g.server,
		Timeout: 10 * time.Second,
		Token:   func() (string, error) { return token, nil },
	})
}

func (g *globalFlags) clusterInfo(ctx context.Context) (scores.ClusterInfo, error) {
	var info scores.ClusterInfo
	resp, err := g.client().Get(ctx, "/v1/cluster")
	if err != nil {
		return info, err
	}
	return info, httputil.DecodeResponse(resp, &info)
}

// session opens the shared cipher between the client key and the cluster.
func (g *globalFlags) session(ctx context.Context) (*sealing.Session, sealing.KeyPair, error) {
	kp, err := loadKey(g.keyPath)
	if err != nil {
		return nil, kp, err
	}
	info, err := g.clusterInfo(ctx)
	if err != nil {
		return nil, kp, fmt.Errorf("fetch cluster info: %w", err)
	}
	session, err := sealing.NewSession(kp.Private, info.EncryptionKey)
	return session, kp, err
}

func randomNonce() (score.Nonce, error) {
	var n score.Nonce
	_, err := rand.Read(n[:])
	return n, err
}

func parseScores(args []string) ([]uint8, error) {
	out := make([]uint8, 0, len(args))
	for _, arg := range args {
		v, err := strconv.ParseUint(arg, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("score %q must be 0..255", arg)
		}
		out = append(out, uint8(v))
	}
	return out, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func submitCmd(g *globalFlags) *cobra.Command {
	var (
		offset uint64
		nonce  string
		owner  string
	)
	cmd := &cobra.Command{
		Use:   "submit <score>...",
		Short: "Seal up to eight u8 scores and submit them",
		Example: `  scorectl keygen
  scorectl submit --offset 7 10 20 30`,
		Args: cobra.RangeArgs(1, score.MaxScores),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseScores(args)
			if err != nil {
				return err
			}
			plain, err := sealing.PackScores(values)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			session, kp, err := g.session(ctx)
			if err != nil {
				return err
			}
			who, err := ownerOf(kp, owner)
			if err != nil {
				return err
			}

			var n score.Nonce
			if nonce != "" {
				n, err = score.ParseNonce(nonce)
			} else {
				n, err = randomNonce()
			}
			if err != nil {
				return fmt.Errorf("nonce: %w", err)
			}
			ct, err := session.Seal(n, plain)
			if err != nil {
				return err
			}

			req := scores.SubmitRequest{
				Offset: offset,
				EncryptedRequest: score.EncryptedRequest{
					Ciphertext:      ct,
					EphemeralPubKey: kp.Public,
					Nonce:           n,
					Count:           uint8(len(values)),
					Owner:           who,
				},
			}
			resp, err := g.client().Post(ctx, "/v1/jobs", req)
			if err != nil {
				return err
			}
			var job score.Job
			if err := httputil.DecodeResponse(resp, &job); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
	cmd.Flags().Uint64Var(&offset, "offset", 0, "computation offset (must be unused)")
	cmd.Flags().StringVar(&nonce, "nonce", "", "u128 nonce in decimal (random when empty)")
	cmd.Flags().StringVar(&owner, "owner", "", "owner id in hex (defaults to the key's public key)")
	_ = cmd.MarkFlagRequired("offset")
	return cmd
}

// decrypted is the plaintext view of a stored result or event.
type decrypted struct {
	Offset      uint64    `json:"offset,omitempty"`
	Owner       string    `json:"owner"`
	Sum         uint8     `json:"sum"`
	Count       uint8     `json:"count"`
	ProcessedAt time.Time `json:"processed_at"`
}

func openResult(session *sealing.Session, nonce score.Nonce, ct score.Block) (sum, count uint8, err error) {
	plain, err := session.Open(nonce, ct)
	if err != nil {
		return 0, 0, err
	}
	slots := sealing.UnpackSlots(plain)
	return slots[0], slots[1], nil
}

func resultCmd(g *globalFlags) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "result",
		Short: "Fetch and decrypt the latest result for an owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			session, kp, err := g.session(ctx)
			if err != nil {
				return err
			}
			who, err := ownerOf(kp, owner)
			if err != nil {
				return err
			}
			resp, err := g.client().Get(ctx, "/v1/results/"+who.String())
			if err != nil {
				return err
			}
			var res score.Result
			if err := httputil.DecodeResponse(resp, &res); err != nil {
				return err
			}
			sum, count, err := openResult(session, res.Nonce, res.EncryptedResult)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), decrypted{
				Owner:       res.Owner.String(),
				Sum:         sum,
				Count:       count,
				ProcessedAt: res.ProcessedAt,
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id in hex (defaults to the key's public key)")
	return cmd
}

func jobCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "job <offset>",
		Short: "Show the status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			offset, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("offset: %w", err)
			}
			resp, err := g.client().Get(cmd.Context(), "/v1/jobs/"+strconv.FormatUint(offset, 10))
			if err != nil {
				return err
			}
			var job score.Job
			if err := httputil.DecodeResponse(resp, &job); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
}

func watchCmd(g *globalFlags) *cobra.Command {
	var (
		owner string
		since uint64
		count int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream and decrypt result events for an owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			session, kp, err := g.session(ctx)
			if err != nil {
				return err
			}
			who, err := ownerOf(kp, owner)
			if err != nil {
				return err
			}

			endpoint, err := eventsURL(g.server, who, since, cmd.Flags().Changed("since"))
			if err != nil {
				return err
			}
			header := http.Header{}
			if g.token != "" {
				header.Set("Authorization", "Bearer "+g.token)
			}
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
			if err != nil {
				return fmt.Errorf("dial %s: %w", endpoint, err)
			}
			defer conn.Close()
			go func() {
				<-ctx.Done()
				conn.Close()
			}()

			for seen := 0; count <= 0 || seen < count; seen++ {
				var envelope notify.Envelope
				if err := conn.ReadJSON(&envelope); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				evt := envelope.Event
				sum, n, err := openResult(session, evt.Nonce, evt.EncryptedResult)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), decrypted{
					Offset:      evt.Offset,
					Owner:       evt.Owner.String(),
					Sum:         sum,
					Count:       n,
					ProcessedAt: evt.ProcessedAt,
				}); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id in hex (defaults to the key's public key)")
	cmd.Flags().Uint64Var(&since, "since", 0, "replay events after this sequence")
	cmd.Flags().IntVar(&count, "count", 0, "exit after this many events (0 streams forever)")
	return cmd
}

func eventsURL(server string, owner score.Owner, since uint64, resume bool) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("server url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/events"
	q := url.Values{}
	q.Set("owner", owner.String())
	if resume {
		q.Set("since", strconv.FormatUint(since, 10))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
