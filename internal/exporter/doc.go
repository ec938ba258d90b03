// Package exporter writes the enriched IPO table.
//
// Every entity becomes exactly one row. Day fields that could not be
// collected are rendered as MissingValue so downstream consumers never see a
// silently dropped row or a zero that looks like a price.
//
// Writers:
//
//	CSVWriter       CSV with optional UTF-8 BOM, truncate or append
//	WriteXLSX       one workbook with a data sheet and a quality summary
//	SheetsPublisher replaces a Google Sheets range with the table
//
// Example usage:
//
//	exp := exporter.New(cfg.Export, paths, logger)
//	result, err := exp.Export(ctx, records)
package exporter
