// Package office2pdf converts office documents (Word, Excel, PowerPoint) to
// PDF using warm headless LibreOffice engines.
//
// # Quick Start
//
// Create a converter, convert a document, and close when done:
//
//	conv, err := office2pdf.NewConverter()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer conv.Close()
//
//	result, err := conv.ConvertFile(ctx, "report.docx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	os.WriteFile(result.Filename, result.PDF, 0644)
//
// Uploads are converted with Convert; resolve the kind once at the boundary:
//
//	kind, err := office2pdf.KindFromFilename(header.Filename)
//	result, err := conv.Convert(ctx, office2pdf.ConversionRequest{
//	    Filename: header.Filename,
//	    Kind:     kind,
//	    Body:     file,
//	})
//
// # Conversion Pipeline
//
// Each request goes through these stages:
//
//  1. Stage: the body is written to <root>/YYYY/MM/DD/<uuid>-<name>.
//  2. Acquire: the request waits for a free worker.
//  3. Open: the worker's engine for the document kind opens the staged file.
//  4. Export: word and presentation documents use SaveAsPDF, spreadsheets
//     ExportAsFixedFormat.
//  5. Close and read: the document is closed without saving and the PDF is
//     read back, optionally checked with pdfcpu.
//  6. Cleanup: staged input and output are removed on every path.
//
// A failure is returned as a *PipelineError naming the stage reached.
//
// # Engine Leases
//
// Engines are expensive to start, so each worker keeps one engine per
// document kind and reuses it. A lease is probed after a failed call and
// rebuilt on the worker's next request only if the engine itself is gone.
// Engines are never shared between workers.
//
// # Configuration
//
// Use functional options to customize the converter:
//
//	conv, err := office2pdf.NewConverter(
//	    office2pdf.WithWorkers(4),
//	    office2pdf.WithStagingRoot("/var/lib/office2pdf/staging"),
//	    office2pdf.WithCallTimeout(90*time.Second),
//	    office2pdf.WithLogger(slog.Default()),
//	)
//
// Any native engine can be plugged in with WithEngineFactory; the default
// starts LibreOffice with NewSofficeFactory.
//
// # LibreOffice Requirements
//
// The soffice binary must be installed and in PATH, or configured with
// SofficeOptions.Binary. Each engine gets a private user profile under
// SofficeOptions.ProfileRoot so engines never contend for the profile lock.
package office2pdf
