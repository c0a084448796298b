package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/jinford/research-rag/internal/core/ingestion"
	"github.com/jinford/research-rag/internal/platform/eventhub"
)

// JobCreateAction は取り込みジョブを作成して実行するコマンドのアクション
func JobCreateAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	sourceID, err := parseID(cmd.String("source-id"), "source-id")
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	var jobCfg *ingestion.JobConfig
	if cmd.IsSet("max-chunk-size") || cmd.IsSet("chunk-overlap") {
		override := ingestion.JobConfig{
			MaxChunkSize: appCtx.Config.Chunking.MaxSize,
			ChunkOverlap: appCtx.Config.Chunking.Overlap,
		}
		if cmd.IsSet("max-chunk-size") {
			override.MaxChunkSize = cmd.Int("max-chunk-size")
		}
		if cmd.IsSet("chunk-overlap") {
			override.ChunkOverlap = cmd.Int("chunk-overlap")
		}
		jobCfg = &override
	}

	job, err := appCtx.Jobs.CreateJob(ctx, sourceID, jobCfg)
	if err != nil {
		return err
	}

	fmt.Println("✓ 取り込みジョブを作成しました")
	fmt.Printf("  Job ID: %s\n", job.ID)
	fmt.Printf("  Config: maxChunkSize=%d chunkOverlap=%d\n", job.Config.MaxChunkSize, job.Config.ChunkOverlap)

	return runAndReport(ctx, cmd, appCtx, job.ID)
}

// JobShowAction はジョブの詳細を表示するコマンドのアクション
func JobShowAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	jobID, err := parseID(cmd.String("id"), "id")
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	job, err := appCtx.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("=== ジョブ詳細 ===")
	fmt.Println()
	fmt.Printf("ID:         %s\n", job.ID)
	fmt.Printf("Source ID:  %s\n", job.SourceID)
	fmt.Printf("Status:     %s\n", job.Status)
	fmt.Printf("Attempts:   %d\n", job.Attempts)
	if job.LastStage != "" {
		fmt.Printf("Last Stage: %s\n", job.LastStage)
	}
	if job.LastError != nil {
		fmt.Printf("Last Error: %s\n", *job.LastError)
	}
	fmt.Printf("Config:     maxChunkSize=%d chunkOverlap=%d\n", job.Config.MaxChunkSize, job.Config.ChunkOverlap)
	fmt.Printf("Created At: %s\n", job.CreatedAt.Format(time.RFC3339))
	if job.StartedAt != nil {
		fmt.Printf("Started At: %s\n", job.StartedAt.Format(time.RFC3339))
	}
	if job.EndedAt != nil {
		fmt.Printf("Ended At:   %s\n", job.EndedAt.Format(time.RFC3339))
	}
	return nil
}

// JobRetryAction は失敗したジョブを再実行するコマンドのアクション
func JobRetryAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	jobID, err := parseID(cmd.String("id"), "id")
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	job, err := appCtx.Jobs.RetryJob(ctx, jobID)
	if err != nil {
		return err
	}

	fmt.Println("✓ ジョブを再実行します")
	fmt.Printf("  Job ID:   %s\n", job.ID)
	fmt.Printf("  Attempts: %d\n", job.Attempts)

	return runAndReport(ctx, cmd, appCtx, job.ID)
}

// JobWatchAction は実行中のジョブのイベントを追跡するコマンドのアクション
func JobWatchAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	jobID, err := parseID(cmd.String("id"), "id")
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	job, err := appCtx.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if isTerminal(job.Status) {
		printJobResult(job)
		return nil
	}

	fmt.Printf("ジョブ %s を監視しています (現在: %s)\n", job.ID, job.Status)
	if err := followJob(ctx, appCtx, jobID, cmd.Bool("json")); err != nil {
		return err
	}

	job, err = appCtx.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	printJobResult(job)
	return nil
}

// runAndReport はジョブをディスパッチし、完了後の状態を表示する。
// --followの場合はイベントを逐次表示し、それ以外は完了まで待つ。
func runAndReport(ctx context.Context, cmd *cli.Command, appCtx *AppContext, jobID uuid.UUID) error {
	handle := appCtx.Jobs.Dispatch(ctx, jobID)

	if cmd.Bool("follow") {
		if err := followJob(ctx, appCtx, jobID, cmd.Bool("json")); err != nil {
			return err
		}
	} else if err := handle.Wait(ctx); err != nil && ctx.Err() != nil {
		// パイプラインの失敗はジョブ行に記録されるため、中断のみをエラーとする
		return err
	}

	job, err := appCtx.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	printJobResult(job)

	if job.Status == ingestion.JobStatusFailed {
		return fmt.Errorf("取り込みジョブが失敗しました: %s", job.ID)
	}
	return nil
}

// followJob はジョブのイベントを終了状態に達するまで表示し続ける。
// イベントは同一プロセスのハブから配信されるため、別プロセスで実行中の
// ジョブはストアのポーリングで終了を検知する。
func followJob(ctx context.Context, appCtx *AppContext, jobID uuid.UUID, asJSON bool) error {
	channel := appCtx.Hub.Channel(ingestion.JobChannelKey(jobID))
	sub := channel.Subscribe()
	defer channel.Unsubscribe(sub)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				// 配信に追いつけず購読を打ち切られた
				return fmt.Errorf("イベントの購読が切断されました")
			}
			printEvent(ev, asJSON)
			if st, ok := ev.(ingestion.StatusEvent); ok && isTerminal(st.Status) {
				return nil
			}
		case <-ticker.C:
			job, err := appCtx.Jobs.GetJob(ctx, jobID)
			if err != nil {
				return err
			}
			if isTerminal(job.Status) {
				drainEvents(sub, asJSON)
				return nil
			}
		}
	}
}

// drainEvents は購読キューに残っているイベントを出力する
func drainEvents(sub *eventhub.Subscription[ingestion.Event], asJSON bool) {
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			printEvent(ev, asJSON)
		default:
			return
		}
	}
}

func isTerminal(status ingestion.JobStatus) bool {
	return status == ingestion.JobStatusSucceeded || status == ingestion.JobStatusFailed
}

func printEvent(ev ingestion.Event, asJSON bool) {
	if asJSON {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		fmt.Println(string(data))
		return
	}

	switch e := ev.(type) {
	case ingestion.StatusEvent:
		if e.Error != "" {
			fmt.Printf("[status] %s: %s\n", e.Status, e.Error)
		} else {
			fmt.Printf("[status] %s\n", e.Status)
		}
	case ingestion.ProgressEvent:
		fmt.Printf("[progress] stage=%s documents=%d chunks=%d embedded=%d\n",
			e.Stage, e.Documents, e.Chunks, e.Embedded)
	}
}

func printJobResult(job *ingestion.IngestionJob) {
	switch job.Status {
	case ingestion.JobStatusSucceeded:
		fmt.Printf("✓ 取り込みが完了しました (job %s)\n", job.ID)
	case ingestion.JobStatusFailed:
		fmt.Printf("✗ 取り込みに失敗しました (job %s)\n", job.ID)
		if job.LastError != nil {
			fmt.Printf("  %s\n", *job.LastError)
		}
	default:
		fmt.Printf("ジョブ %s は %s です\n", job.ID, job.Status)
	}
}
