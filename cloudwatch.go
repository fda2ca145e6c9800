package main

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/cloudwatch/cloudwatchiface"
)

// CloudWatch metric names charted by the existing dashboards.
var cloudWatchNames = map[string]string{
	"temperature":   "Temperature",
	"humidity":      "Humidity",
	"soil_moisture": "SoilMoisture",
}

var cloudWatchUnits = map[string]string{
	"temperature":   cloudwatch.StandardUnitNone,
	"humidity":      cloudwatch.StandardUnitPercent,
	"soil_moisture": cloudwatch.StandardUnitPercent,
}

// CloudWatchForwarder mirrors each telemetry record into CloudWatch custom
// metrics so dashboards and alarms keep working alongside the MQTT stream.
type CloudWatchForwarder struct {
	svc       cloudwatchiface.CloudWatchAPI
	namespace string
	deviceID  string
	location  string
}

// NewCloudWatchForwarder builds a forwarder on a fresh session; credentials
// come from the usual AWS chain.
func NewCloudWatchForwarder(cfg CloudWatchConfig, deviceID, location string) *CloudWatchForwarder {
	s := session.New()
	return &CloudWatchForwarder{
		svc:       cloudwatch.New(s, aws.NewConfig().WithRegion(cfg.Region)),
		namespace: cfg.Namespace,
		deviceID:  deviceID,
		location:  location,
	}
}

// Put sends one datum per metric in the record, tagged with the device and
// location dimensions.
func (f *CloudWatchForwarder) Put(rec TelemetryRecord) error {
	data := make([]*cloudwatch.MetricDatum, 0, len(rec.Data))
	for metric, value := range rec.Data {
		name, ok := cloudWatchNames[metric]
		if !ok {
			continue
		}
		datum := &cloudwatch.MetricDatum{
			MetricName: aws.String(name),
			Value:      aws.Float64(value),
			Unit:       aws.String(cloudWatchUnits[metric]),
			Timestamp:  aws.Time(rec.Timestamp),
			Dimensions: []*cloudwatch.Dimension{
				{Name: aws.String("DeviceId"), Value: aws.String(f.deviceID)},
			},
		}
		if f.location != "" {
			datum.Dimensions = append(datum.Dimensions, &cloudwatch.Dimension{
				Name:  aws.String("Location"),
				Value: aws.String(f.location),
			})
		}
		data = append(data, datum)
	}
	if len(data) == 0 {
		return nil
	}

	_, err := f.svc.PutMetricData(&cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(f.namespace),
		MetricData: data,
	})
	if err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}
	return nil
}
