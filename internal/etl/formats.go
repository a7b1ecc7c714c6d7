package etl

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/segmentio/parquet-go"

	"github.com/raaihank/txn-sentinel/internal/anonymizer"
)

// dataset is a transaction file held in memory together with what is needed
// to write it back in the same layout.
type dataset struct {
	format    FileFormat
	header    []string
	jsonLines bool
	rows      []TransactionRow
	records   []anonymizer.Record
	// positions[i] is the data row of records[i] in the source file,
	// counting rows skipped as invalid.
	positions []int
	invalid   []*anonymizer.RecordError
}

func readDataset(path string, format FileFormat) (*dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	data := &dataset{format: format}
	switch format {
	case FormatCSV:
		err = data.readCSV(file)
	case FormatJSON:
		err = data.readJSON(file)
	case FormatParquet:
		err = data.readParquet(file)
	default:
		err = fmt.Errorf("unsupported file format: %s", format)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (d *dataset) readCSV(r io.Reader) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")
	d.header = header

	idCol := -1
	for i, h := range header {
		if h == "id" {
			idCol = i
		}
	}

	for line := 0; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read CSV record: %w", err)
		}

		if len(row) != len(header) {
			id := "#" + strconv.Itoa(line)
			if idCol >= 0 && idCol < len(row) && row[idCol] != "" {
				id = row[idCol]
			}
			d.invalid = append(d.invalid, &anonymizer.RecordError{Index: line, ID: id,
				Err: fmt.Errorf("%w: %d fields, header has %d", anonymizer.ErrMalformedInput, len(row), len(header))})
			continue
		}

		rec := make(anonymizer.Record, len(header))
		for i, h := range header {
			rec[h] = row[i]
		}
		d.records = append(d.records, rec)
		d.positions = append(d.positions, line)
	}
}

// readJSON accepts a JSON array of objects or one object per line. Numbers
// are kept as json.Number so amounts are written back unchanged.
func (d *dataset) readJSON(r io.Reader) error {
	br := bufio.NewReader(r)
	first, err := firstNonSpace(br)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read JSON: %w", err)
	}

	var raws []json.RawMessage
	if first == '[' {
		if err := json.NewDecoder(br).Decode(&raws); err != nil {
			return fmt.Errorf("failed to decode JSON array: %w", err)
		}
	} else {
		d.jsonLines = true
		decoder := json.NewDecoder(br)
		for {
			var raw json.RawMessage
			err := decoder.Decode(&raw)
			if err == io.EOF {
				break
			}
			if err != nil {
				return fmt.Errorf("failed to decode JSON line %d: %w", len(raws)+1, err)
			}
			raws = append(raws, raw)
		}
	}

	for i, raw := range raws {
		var rec anonymizer.Record
		decoder := json.NewDecoder(bytes.NewReader(raw))
		decoder.UseNumber()
		if err := decoder.Decode(&rec); err != nil || rec == nil {
			d.invalid = append(d.invalid, &anonymizer.RecordError{Index: i, ID: "#" + strconv.Itoa(i),
				Err: fmt.Errorf("%w: not a JSON object", anonymizer.ErrMalformedInput)})
			continue
		}
		d.records = append(d.records, rec)
		d.positions = append(d.positions, i)
	}
	return nil
}

func firstNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if b != ' ' && b != '\n' && b != '\r' && b != '\t' {
			return b, br.UnreadByte()
		}
	}
}

func (d *dataset) readParquet(file *os.File) error {
	reader := parquet.NewReader(file)
	defer reader.Close()

	for {
		var row TransactionRow
		err := reader.Read(&row)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read Parquet record: %w", err)
		}
		d.positions = append(d.positions, len(d.records))
		d.rows = append(d.rows, row)
		d.records = append(d.records, row.record())
	}
}

func writeDataset(path string, d *dataset, outcomes []outcome) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	switch d.format {
	case FormatCSV:
		err = d.writeCSV(file, outcomes)
	case FormatJSON:
		err = d.writeJSON(file, outcomes)
	case FormatParquet:
		err = d.writeParquet(file, outcomes)
	default:
		err = fmt.Errorf("unsupported file format: %s", d.format)
	}
	if err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func succeeded(o outcome) bool { return o.done && o.err == nil }

func (d *dataset) writeCSV(w io.Writer, outcomes []outcome) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(d.header); err != nil {
		return err
	}
	row := make([]string, len(d.header))
	for _, o := range outcomes {
		if !succeeded(o) {
			continue
		}
		for i, h := range d.header {
			switch v := o.record[h].(type) {
			case nil:
				row[i] = ""
			case string:
				row[i] = v
			default:
				row[i] = fmt.Sprint(v)
			}
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func (d *dataset) writeJSON(w io.Writer, outcomes []outcome) error {
	bw := bufio.NewWriter(w)
	encoder := json.NewEncoder(bw)
	encoder.SetEscapeHTML(false)

	if d.jsonLines {
		for _, o := range outcomes {
			if !succeeded(o) {
				continue
			}
			if err := encoder.Encode(o.record); err != nil {
				return err
			}
		}
		return bw.Flush()
	}

	records := make([]anonymizer.Record, 0, len(outcomes))
	for _, o := range outcomes {
		if succeeded(o) {
			records = append(records, o.record)
		}
	}
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(records); err != nil {
		return err
	}
	return bw.Flush()
}

func (d *dataset) writeParquet(w io.Writer, outcomes []outcome) error {
	writer := parquet.NewWriter(w, parquet.SchemaOf(new(TransactionRow)))
	for i, o := range outcomes {
		if !succeeded(o) {
			continue
		}
		row := d.rows[i].withText(o.record)
		if err := writer.Write(&row); err != nil {
			return fmt.Errorf("failed to write Parquet record: %w", err)
		}
	}
	return writer.Close()
}
