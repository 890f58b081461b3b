package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName — имя tracer для spans сервиса.
const TracerName = "github.com/shaiso/Durable"

// InitTracing регистрирует глобальный TracerProvider со stdout exporter.
//
// Пустой outputFile пишет spans в stdout. Возвращает функцию shutdown,
// которую нужно вызвать при остановке процесса.
func InitTracing(serviceName, outputFile string) (func(context.Context) error, error) {
	var w io.Writer = os.Stdout
	var file *os.File
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return nil, fmt.Errorf("create trace file: %w", err)
		}
		w = f
		file = f
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	tp := NewTracerProvider(serviceName, sdktrace.NewBatchSpanProcessor(exporter))
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		err := tp.Shutdown(ctx)
		if file != nil {
			if cerr := file.Close(); err == nil {
				err = cerr
			}
		}
		return err
	}, nil
}

// NewTracerProvider создаёт TracerProvider с ресурсом service.name.
func NewTracerProvider(serviceName string, processor sdktrace.SpanProcessor) *sdktrace.TracerProvider {
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	return sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(processor),
		sdktrace.WithResource(res),
	)
}

// Tracer возвращает tracer сервиса из глобального провайдера.
// Без InitTracing spans ничего не делают.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartSpan открывает span с атрибутами.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan закрывает span, помечая ошибку.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
