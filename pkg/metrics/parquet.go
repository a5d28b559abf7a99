package metrics

import (
	"context"
	"errors"

	dataframe "github.com/rocketlaunchr/dataframe-go"
	"github.com/rocketlaunchr/dataframe-go/imports"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/akhildatla/parvm/pkg/vm"
)

// Parquet-specific errors
var (
	ErrEmptyTrace = errors.New("empty trace file")
)

// TraceRow is the Parquet schema for one trace event.
type TraceRow struct {
	Cycle       int64  `parquet:"name=cycle, type=INT64"`
	ProcessorID int32  `parquet:"name=processor, type=INT32"`
	ThreadID    int32  `parquet:"name=thread, type=INT32"`
	PC          int64  `parquet:"name=pc, type=INT64"`
	Text        string `parquet:"name=instruction, type=UTF8"`
	Completed   bool   `parquet:"name=completed, type=BOOLEAN"`
}

// ExportTrace writes an execution trace to a Parquet file.
func ExportTrace(path string, events []vm.TraceEvent) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return err
	}
	defer fw.Close()

	pw, err := writer.NewParquetWriter(fw, new(TraceRow), 1)
	if err != nil {
		return err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, ev := range events {
		row := TraceRow{
			Cycle:       int64(ev.Cycle),
			ProcessorID: int32(ev.ProcessorID),
			ThreadID:    int32(ev.ThreadID),
			PC:          int64(ev.PC),
			Text:        ev.Text,
			Completed:   ev.Completed,
		}
		if err := pw.Write(row); err != nil {
			return err
		}
	}
	return pw.WriteStop()
}

// ImportTrace reads a Parquet trace file back into trace events.
func ImportTrace(path string) ([]vm.TraceEvent, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(TraceRow), 1)
	if err != nil {
		return nil, err
	}
	defer pr.ReadStop()

	num := int(pr.GetNumRows())
	if num == 0 {
		return nil, ErrEmptyTrace
	}

	rows := make([]TraceRow, num)
	if err := pr.Read(&rows); err != nil {
		return nil, err
	}

	events := make([]vm.TraceEvent, num)
	for i, row := range rows {
		events[i] = vm.TraceEvent{
			Cycle:       uint64(row.Cycle),
			ProcessorID: int(row.ProcessorID),
			ThreadID:    int(row.ThreadID),
			PC:          uint32(row.PC),
			Text:        row.Text,
			Completed:   row.Completed,
		}
	}
	return events, nil
}

// LoadTraceFrame reads a Parquet trace file into a DataFrame.
// Uses the dataframe-go imports package with parquet-go backend.
func LoadTraceFrame(path string) (*dataframe.DataFrame, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	defer fr.Close()

	df, err := imports.LoadFromParquet(context.Background(), fr)
	if err != nil {
		return nil, err
	}

	if df == nil || len(df.Series) == 0 {
		return nil, ErrEmptyTrace
	}
	return df, nil
}
