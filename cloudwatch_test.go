package main

import (
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/cloudwatch/cloudwatchiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCloudWatch struct {
	cloudwatchiface.CloudWatchAPI
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (f *fakeCloudWatch) PutMetricData(in *cloudwatch.PutMetricDataInput) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func testRecord() TelemetryRecord {
	return TelemetryRecord{
		Data: map[string]float64{
			"temperature":   23.4,
			"humidity":      67.8,
			"soil_moisture": 41.0,
		},
		DeviceID:  "farm-01",
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestCloudWatchForwarder_PutSendsOneDatumPerMetric(t *testing.T) {
	fake := &fakeCloudWatch{}
	f := &CloudWatchForwarder{svc: fake, namespace: "SmartAgriculture", deviceID: "farm-01", location: "greenhouse-2"}

	err := f.Put(testRecord())

	require.NoError(t, err)
	require.Len(t, fake.inputs, 1)
	in := fake.inputs[0]
	assert.Equal(t, "SmartAgriculture", aws.StringValue(in.Namespace))
	require.Len(t, in.MetricData, 3)

	// Map iteration order varies, so index the datums by name
	byName := make(map[string]*cloudwatch.MetricDatum, len(in.MetricData))
	for _, d := range in.MetricData {
		byName[aws.StringValue(d.MetricName)] = d
	}

	temp := byName["Temperature"]
	require.NotNil(t, temp)
	assert.Equal(t, 23.4, aws.Float64Value(temp.Value))
	assert.Equal(t, cloudwatch.StandardUnitNone, aws.StringValue(temp.Unit))

	soil := byName["SoilMoisture"]
	require.NotNil(t, soil)
	assert.Equal(t, 41.0, aws.Float64Value(soil.Value))
	assert.Equal(t, cloudwatch.StandardUnitPercent, aws.StringValue(soil.Unit))

	require.Len(t, temp.Dimensions, 2)
	assert.Equal(t, "DeviceId", aws.StringValue(temp.Dimensions[0].Name))
	assert.Equal(t, "farm-01", aws.StringValue(temp.Dimensions[0].Value))
	assert.Equal(t, "Location", aws.StringValue(temp.Dimensions[1].Name))
	assert.Equal(t, "greenhouse-2", aws.StringValue(temp.Dimensions[1].Value))
}

func TestCloudWatchForwarder_SkipsUnknownMetrics(t *testing.T) {
	fake := &fakeCloudWatch{}
	f := &CloudWatchForwarder{svc: fake, namespace: "SmartAgriculture", deviceID: "farm-01"}

	err := f.Put(TelemetryRecord{Data: map[string]float64{"pressure": 1013.0}})

	// Nothing chartable in the record means no API call at all
	require.NoError(t, err)
	assert.Empty(t, fake.inputs)
}

func TestCloudWatchForwarder_OmitsLocationDimensionWhenUnset(t *testing.T) {
	fake := &fakeCloudWatch{}
	f := &CloudWatchForwarder{svc: fake, namespace: "SmartAgriculture", deviceID: "farm-01"}

	require.NoError(t, f.Put(testRecord()))

	require.Len(t, fake.inputs, 1)
	for _, d := range fake.inputs[0].MetricData {
		assert.Len(t, d.Dimensions, 1)
	}
}

func TestCloudWatchForwarder_PropagatesAPIError(t *testing.T) {
	fake := &fakeCloudWatch{err: errors.New("throttled")}
	f := &CloudWatchForwarder{svc: fake, namespace: "SmartAgriculture", deviceID: "farm-01"}

	err := f.Put(testRecord())

	assert.ErrorContains(t, err, "put metric data")
}

func TestNewCloudWatchForwarder_CarriesIdentity(t *testing.T) {
	f := NewCloudWatchForwarder(CloudWatchConfig{Region: "us-east-1", Namespace: "SmartAgriculture"}, "farm-01", "greenhouse-2")

	assert.NotNil(t, f.svc)
	assert.Equal(t, "SmartAgriculture", f.namespace)
	assert.Equal(t, "farm-01", f.deviceID)
	assert.Equal(t, "greenhouse-2", f.location)
}
